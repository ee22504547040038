// Package control applies operator commands received over the bus to the
// running bidder and publishes its outbound event channels.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/bus"
	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/engine"
	"rtb-bidder/internal/observability"
)

// CampaignSource resolves campaigns named by an add command that carries no
// inline definition.
type CampaignSource interface {
	GetCampaign(ctx context.Context, owner, id string) (campaign.Spec, error)
}

type Controller struct {
	instance string
	store    *campaign.Store
	engine   *engine.BidEngine
	source   CampaignSource
	pubs     *Publishers
	timeout  time.Duration
}

// NewController wires the command handler. source may be nil, in which case
// add commands must carry the campaign inline.
func NewController(instance string, store *campaign.Store, eng *engine.BidEngine, source CampaignSource, pubs *Publishers) *Controller {
	return &Controller{
		instance: instance,
		store:    store,
		engine:   eng,
		source:   source,
		pubs:     pubs,
		timeout:  10 * time.Second,
	}
}

// Listen subscribes to the command topic.
func (c *Controller) Listen(b bus.Bus, topic string) error {
	if topic == "" {
		return errors.New("bus.topics.commands is empty")
	}
	return b.Subscribe(topic, func(payload []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.Handle(ctx, payload)
	})
}

// ApplyAddCampaign installs camp as a local campaign that database
// refreshes leave alone.
func (c *Controller) ApplyAddCampaign(camp *campaign.Campaign) {
	c.applyAdd(campaign.OriginLocal, camp)
}

func (c *Controller) applyAdd(origin campaign.Origin, camp *campaign.Campaign) {
	c.store.UpsertFrom(origin, camp)
	log.Info().Str("campaign", camp.Key().String()).Int("campaigns", c.store.Size()).Msg("campaign added")
}

func (c *Controller) ApplyDeleteCampaign(owner, id string) bool {
	ok := c.store.Remove(owner, id)
	if ok {
		log.Info().Str("campaign", owner+"/"+id).Int("campaigns", c.store.Size()).Msg("campaign deleted")
	}
	return ok
}

func (c *Controller) SetServingEnabled(on bool) {
	c.engine.SetServing(on)
	log.Info().Bool("serving", on).Msg("serving state changed")
}

// Handle decodes and applies one command and publishes the acknowledgement,
// which is also returned. Commands addressed to another instance are ignored
// and yield nil.
func (c *Controller) Handle(ctx context.Context, payload []byte) any {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Warn().Err(err).Msg("malformed command")
		observability.Commands.WithLabelValues("malformed", StatusError).Inc()
		reply := Command{Cmd: -1, From: c.instance, Status: StatusError, Msg: "malformed command: " + err.Error()}
		c.pubs.Respond(reply)
		return reply
	}
	if cmd.To != "" && cmd.To != "*" && cmd.To != c.instance {
		return nil
	}

	reply := c.dispatch(ctx, cmd)

	status := StatusOK
	switch r := reply.(type) {
	case Command:
		if r.Status != StatusOK {
			status = StatusError
		}
	case Echo:
		if r.Status != StatusOK {
			status = StatusError
		}
	}
	observability.Commands.WithLabelValues(cmdName(cmd.Cmd), status).Inc()
	log.Info().Str("cmd", cmdName(cmd.Cmd)).Str("id", cmd.ID).Str("from", cmd.From).Str("status", status).Msg("command handled")

	c.pubs.Respond(reply)
	return reply
}

func (c *Controller) dispatch(ctx context.Context, cmd Command) any {
	reply := Command{
		Cmd:    cmd.Cmd,
		ID:     cmd.ID,
		To:     cmd.From,
		From:   c.instance,
		Owner:  cmd.Owner,
		Target: cmd.Target,
		Status: StatusOK,
	}

	switch cmd.Cmd {
	case CmdAddCampaign:
		camp, origin, err := c.resolve(ctx, cmd)
		if err != nil {
			reply.Status, reply.Msg = StatusError, err.Error()
			return reply
		}
		c.applyAdd(origin, camp)
		reply.Msg = "campaign " + camp.Key().String() + " added"

	case CmdDeleteCampaign:
		if !c.ApplyDeleteCampaign(cmd.Owner, cmd.Target) {
			reply.Status = "error, no such campaign " + cmd.Target
		} else {
			reply.Msg = "campaign " + cmd.Owner + "/" + cmd.Target + " deleted"
		}

	case CmdStopBidder:
		c.SetServingEnabled(false)
		reply.Msg = "stopped"

	case CmdStartBidder:
		c.SetServingEnabled(true)
		reply.Msg = "running"

	case CmdPercentage:
		if cmd.Percentage == nil {
			reply.Status, reply.Msg = StatusError, "percentage is required"
			return reply
		}
		c.engine.SetThrottle(*cmd.Percentage)
		pct := c.engine.Throttle()
		reply.Percentage = &pct
		reply.Msg = fmt.Sprintf("throttle set to %d%%", pct)

	case CmdEcho:
		return c.status(reply)

	default:
		e := c.status(reply)
		e.Status, e.Msg = StatusError, "error, unhandled event"
		return e
	}
	return reply
}

// resolve builds the campaign named by an add command. Inline definitions
// are local; anything fetched from the source belongs to the database.
func (c *Controller) resolve(ctx context.Context, cmd Command) (*campaign.Campaign, campaign.Origin, error) {
	if cmd.Campaign != nil {
		camp, err := cmd.Campaign.Build()
		return camp, campaign.OriginLocal, err
	}
	if c.source == nil {
		return nil, "", errors.New("no inline campaign and no campaign source configured")
	}
	spec, err := c.source.GetCampaign(ctx, cmd.Owner, cmd.Target)
	if err != nil {
		return nil, "", fmt.Errorf("load campaign %s/%s: %w", cmd.Owner, cmd.Target, err)
	}
	camp, err := spec.Build()
	return camp, campaign.OriginDatabase, err
}

func (c *Controller) status(reply Command) Echo {
	snap := c.store.Current()
	keys := make([]string, 0, snap.Len())
	for _, camp := range snap.Campaigns() {
		keys = append(keys, camp.Key().String())
	}
	return Echo{
		Command:   reply,
		Instance:  c.instance,
		Serving:   c.engine.Serving(),
		Throttle:  c.engine.Throttle(),
		Campaigns: keys,
	}
}
