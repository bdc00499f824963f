package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/gftdcojp/tickstore/pkg/natsutil"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// RunNATSResponder answers request-reply queries until ctx is done.
// Subjects:
//
//	{prefix}.api.status
//	{prefix}.api.search        body: SearchRequest
//	{prefix}.api.quota.status
//	{prefix}.api.quota.check   body: QuotaCheckRequest
//	{prefix}.api.tiers
//
// Replies are JSON; failures reply {"error": "..."}.
func RunNATSResponder(ctx context.Context, nc *nats.Conn, cfg config.NATSResponderConfig, d Deps) error {
	svc := newService(d)
	logger := svc.d.Logger

	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "tickstore"
	}
	base := natsutil.Subject(prefix, "api")

	subject := base + ".>"
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		op := strings.TrimPrefix(msg.Subject, base+".")
		resp, err := dispatch(ctx, svc, op, msg.Data)
		if err != nil {
			reply(msg, map[string]string{"error": err.Error()}, logger)
			return
		}
		reply(msg, resp, logger)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	logger.Info("NATS responder started", zap.String("subject", subject))

	<-ctx.Done()
	sub.Unsubscribe()
	return nil
}

func dispatch(ctx context.Context, svc *service, op string, body []byte) (any, error) {
	switch op {
	case "status":
		return svc.status(ctx)
	case "search":
		var req SearchRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return svc.search(req)
	case "quota.status":
		return svc.quotaStatus()
	case "quota.check":
		var req QuotaCheckRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		return svc.quotaCheck(req)
	case "tiers":
		return svc.tiers()
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

// decodeBody treats an empty body as the zero request.
func decodeBody(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest{fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

func reply(msg *nats.Msg, v any, logger *zap.Logger) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	if err := msg.Respond(data); err != nil {
		logger.Warn("responding to request failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}
