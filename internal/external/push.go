package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"cropsense/internal/types"
)

// ErrEndpointGone marks a push endpoint the relay reports as permanently
// invalid. The alert worker disables the subscription instead of retrying.
var ErrEndpointGone = types.NewAppError(
	types.ErrCodeUpstreamPushRelay,
	"push endpoint no longer exists",
	nil,
)

// PushRelay delivers alert notifications to device endpoints through the
// push relay service. The relay handles the platform-specific encryption;
// this client just posts the payload.
type PushRelay struct {
	base      *BaseClient
	authToken string
	logger    *slog.Logger
}

// NewPushRelay creates a push relay client. authToken is sent as a bearer
// token on every delivery.
func NewPushRelay(base *BaseClient, authToken string, logger *slog.Logger) *PushRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushRelay{
		base:      base,
		authToken: authToken,
		logger:    logger,
	}
}

// Send delivers one payload to the subscription endpoint carried on it.
// 404 and 410 responses return ErrEndpointGone so the caller can disable the
// subscription; other failures surface as upstream_push_relay_unavailable.
func (p *PushRelay) Send(ctx context.Context, payload *types.PushPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "encoding push payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.Endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "building push request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.authToken)
	}

	resp, err := p.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		p.logger.InfoContext(ctx, "push endpoint gone", "status", resp.StatusCode)
		return ErrEndpointGone
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamPushRelay,
			fmt.Sprintf("push relay returned status %d", resp.StatusCode),
			nil,
		)
	}
}
