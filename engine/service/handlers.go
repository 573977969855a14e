package service

import (
	"fmt"
	"time"

	"github.com/fractaldogs/dogworld/engine/anticheat"
	"github.com/fractaldogs/dogworld/engine/consts"
	"github.com/fractaldogs/dogworld/engine/dog"
	"github.com/fractaldogs/dogworld/engine/gate"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/gwutils"
	"github.com/fractaldogs/dogworld/engine/proto"
)

var shutdownNotice = proto.ShutdownNotice()

var actionClasses = map[proto.CommandType]anticheat.ActionClass{
	proto.CMD_MINT:           anticheat.ActionMint,
	proto.CMD_MERGE:          anticheat.ActionMerge,
	proto.CMD_PRESTIGE_RESET: anticheat.ActionPrestige,
}

func (gs *GameService) handleClientCommand(cc gate.ClientCommand) {
	gs.metrics.RequestReceived()
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: %s from %s", gs, cc.Cmd, cc.ConnID)
	}

	if cc.Cmd.Type == proto.CMD_AUTHENTICATE {
		resp := proto.OKResponse()
		if !gs.registry.Authenticate(cc.ConnID, cc.Cmd.Identity) {
			resp = proto.ErrorResponse(proto.CODE_UNAVAILABLE, "connection is gone")
		}
		gs.reply(cc, resp)
		return
	}

	identity := gs.registry.Identity(cc.ConnID)
	if identity == "" {
		gs.reply(cc, proto.ErrorResponse(proto.CODE_NOT_AUTHENTICATED, "authenticate first"))
		return
	}

	// one worker group per identity shard keeps each identity's commands in arrival order
	group := fmt.Sprintf("player-%d", gwutils.ShardOf(identity, gs.cfg.Core.AsyncWorkers))
	cmd := cc.Cmd
	ok := gs.jobs.AppendJob(group, func() (interface{}, error) {
		return gs.execute(identity, cmd), nil
	}, func(res interface{}, err error) {
		if err != nil {
			gs.reply(cc, proto.ErrorToResponse(err))
			return
		}
		gs.reply(cc, res.(*proto.Response))
	})
	if !ok {
		gs.reply(cc, proto.ErrorResponse(proto.CODE_UNAVAILABLE, "server is shutting down"))
	}
}

// execute runs on an async worker: anti-automation check, then the store operation
func (gs *GameService) execute(identity string, cmd proto.Command) *proto.Response {
	if class, ok := actionClasses[cmd.Type]; ok {
		decision := gs.anticheat.ValidateAction(identity, class)
		if !decision.Allowed {
			gs.metrics.AntiCheatBlocked()
			gwlog.Infof("%s: %s by %s denied: %s", gs, cmd, identity, decision.Detail)
			return proto.DeniedResponse(decision)
		}
	}

	var d dog.Dog
	var err error
	switch cmd.Type {
	case proto.CMD_MINT:
		if d, err = gs.store.Mint(gs.ctx, identity); err == nil {
			gs.metrics.DogCreated()
		}
	case proto.CMD_MERGE:
		if d, err = gs.store.Merge(gs.ctx, identity, cmd.DogID1, cmd.DogID2); err == nil {
			gs.metrics.DogMerged()
		}
	case proto.CMD_PRESTIGE_RESET:
		if d, err = gs.store.PrestigeReset(gs.ctx, identity, cmd.DogID1); err == nil {
			gs.metrics.DogPrestiged()
		}
	case proto.CMD_GET_DOGS:
		dogs, err := gs.store.GetDogsByOwner(gs.ctx, identity)
		if err != nil {
			return gs.errorResponse(cmd, identity, err)
		}
		return proto.DogsResponse(dogs)
	default:
		gwlog.Panicf("%s: unexpected command %s", gs, cmd)
	}
	if err != nil {
		return gs.errorResponse(cmd, identity, err)
	}
	return proto.DogResponse(d)
}

func (gs *GameService) errorResponse(cmd proto.Command, identity string, err error) *proto.Response {
	if !dog.IsDomainError(err) {
		gwlog.Errorf("%s: %s by %s failed: %s", gs, cmd, identity, err)
	}
	return proto.ErrorToResponse(err)
}

func (gs *GameService) reply(cc gate.ClientCommand, resp *proto.Response) {
	gs.metrics.ObserveLatency(time.Since(cc.ReceivedAt))
	if !gs.registry.SendToConnection(cc.ConnID, resp) && consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: %s is gone, %s response dropped", gs, cc.ConnID, resp.Kind)
	}
}
