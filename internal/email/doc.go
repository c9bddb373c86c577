// Package email contiene los gateways de salida de mail.
//
// Un Gateway envía un Message usando el access token delegado del usuario.
// Los fallos son *SendError; AuthError=true indica que el token fue rechazado
// y que vale la pena refrescarlo y reintentar una vez.
//
// Implementaciones:
//
//	SMTPGateway   SMTP con SASL XOAUTH2 (go-mail)
//	RelayGateway  POST JSON a un relay HTTP
//	LogGateway    sólo loguea (desarrollo)
package email
