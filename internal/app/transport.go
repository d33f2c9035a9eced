package app

import (
	"context"

	"namingpush/internal/push"
	"namingpush/pkg/logx"
)

// logTransport is the default transport of the standalone binary: it logs
// every push instead of sending it over a client connection.
type logTransport struct{ log logx.Logger }

func (t logTransport) Push(_ context.Context, clientID string, p push.Payload) error {
	fields := []logx.Field{
		logx.String("client", clientID),
		logx.String("kind", p.Kind()),
		logx.String("target", p.Target()),
	}
	switch v := p.(type) {
	case push.ServicePush:
		fields = append(fields, logx.Int("instances", len(v.Info.Instances)), logx.Uint64("revision", v.Info.Revision))
	case push.FuzzyInitPush:
		fields = append(fields, logx.Int("batch", v.Batch), logx.Int("services", len(v.Services)), logx.Bool("finished", v.Finished))
	case push.FuzzyChangePush:
		fields = append(fields, logx.String("change", string(v.Change)))
	}
	t.log.Info("push", fields...)
	return nil
}
