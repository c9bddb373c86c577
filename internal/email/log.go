package email

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dropDatabas3/quotamail/internal/observability/logger"
	"github.com/dropDatabas3/quotamail/internal/util"
)

// LogGateway no envía nada: loguea el mensaje y lo guarda en memoria.
// Útil en desarrollo y tests.
type LogGateway struct {
	mu   sync.Mutex
	sent []Message
}

func NewLogGateway() *LogGateway { return &LogGateway{} }

func (g *LogGateway) Send(ctx context.Context, msg Message, accessToken string) (Receipt, error) {
	id := "log-" + uuid.NewString()

	g.mu.Lock()
	g.sent = append(g.sent, msg)
	g.mu.Unlock()

	logger.From(ctx).Info("email (log gateway)",
		logger.Component("log_gateway"),
		logger.String("from", util.MaskEmail(msg.From)),
		logger.Recipient(msg.To),
		logger.String("subject", msg.Subject),
		logger.MessageID(id),
	)
	return Receipt{MessageID: id}, nil
}

// Sent devuelve una copia de los mensajes "enviados".
func (g *LogGateway) Sent() []Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Message(nil), g.sent...)
}
