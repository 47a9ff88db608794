package hub

import (
	"context"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/auth"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

const (
	msgSetScope    = "setScope"
	msgSubscribe   = "subscribe"
	msgUnsubscribe = "unsubscribe"
)

// clientMessage is every request a client can send. Fields not used by
// Type are ignored.
type clientMessage struct {
	Type         string                     `json:"type"`
	Token        string                     `json:"token,omitempty"`
	EnterpriseID *int64                     `json:"enterpriseId,omitempty"`
	Panels       []domain.PanelSubscription `json:"panels,omitempty"`
	PanelID      int64                      `json:"panelId,omitempty"`
	GatewayID    string                     `json:"gatewayId,omitempty"`
}

type scopeResult struct {
	Panels []domain.PanelSubscription `json:"panels"`
}

func errorEvent(msg string) domain.Event {
	return domain.Event{Type: domain.EventError, Data: msg}
}

// identify authenticates the message token, falling back to the identity
// established when the connection was opened.
func (h *Hub) identify(c *client, token string) (auth.Identity, bool) {
	if token != "" {
		id, err := h.opts.Auth.Authenticate(token)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", c.id).Msg("token rejected")
			return auth.Identity{}, false
		}
		c.identity = &id
		return id, true
	}
	if c.identity != nil {
		return *c.identity, true
	}
	id, err := h.opts.Auth.Authenticate("")
	if err != nil {
		return auth.Identity{}, false
	}
	return id, true
}

func (h *Hub) handle(c *client, msg clientMessage) {
	if h.router == nil {
		h.reply(c, errorEvent("subscriptions unavailable"))
		return
	}
	id, ok := h.identify(c, msg.Token)
	if !ok {
		h.reply(c, errorEvent("authentication required"))
		return
	}

	switch msg.Type {
	case msgSetScope:
		subs := msg.Panels
		if msg.EnterpriseID != nil {
			if h.opts.Resolver == nil {
				h.reply(c, errorEvent("enterprise scopes unavailable"))
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
			resolved, err := h.opts.Resolver.PanelsForEnterprise(ctx, *msg.EnterpriseID)
			cancel()
			if err != nil {
				h.log.Error().Err(err).Int64("enterprise_id", *msg.EnterpriseID).Msg("scope resolution failed")
				h.reply(c, errorEvent("could not resolve enterprise"))
				return
			}
			subs = resolved
		}
		if subs == nil {
			subs = []domain.PanelSubscription{}
		}
		h.router.SetConnectionSubscriptions(c.id, id.UserID, subs)
		h.reply(c, domain.Event{Type: domain.EventScopeConfirmed, Data: scopeResult{Panels: subs}})

	case msgSubscribe:
		if msg.GatewayID == "" {
			h.reply(c, errorEvent("gatewayId required"))
			return
		}
		h.router.SubscribeToPanel(c.id, id.UserID, msg.PanelID, msg.GatewayID)

	case msgUnsubscribe:
		h.router.UnsubscribeFromPanel(c.id, msg.PanelID)

	default:
		h.reply(c, errorEvent("unknown message type"))
	}
}
