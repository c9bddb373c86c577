// Package credentials resuelve la credencial delegada de envío de un usuario.
//
// Resolve lee la credencial del store y la refresca contra el IdP sólo si el
// access token falta o vence dentro de la ventana de anticipación.
// ForceRefresh se usa cuando el gateway rechazó el token. Los refresh
// concurrentes del mismo usuario se agrupan con singleflight.
//
// Un refresh fallido nunca modifica el estado persistido.
package credentials
