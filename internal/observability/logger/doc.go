// Package logger expone un logger Zap singleton con scoping por contexto.
//
// Inicialización (una vez en main.go):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "quotamail"})
//	defer logger.Sync()
//
// En services/orquestador:
//
//	log := logger.From(ctx).With(logger.Op("SendEmail"), logger.UserID(userID))
//	log.Info("email dispatched", logger.MessageID(id))
//
// Los middlewares HTTP inyectan un logger con request_id via ToContext.
package logger
