package main

import (
	"fmt"
	"math/rand"
	"net"
	"sort"
	"time"

	"github.com/fractaldogs/dogworld/engine/common"
	"github.com/fractaldogs/dogworld/engine/gwlog"
	"github.com/fractaldogs/dogworld/engine/netutil"
	"github.com/fractaldogs/dogworld/engine/opmon"
	"github.com/fractaldogs/dogworld/engine/proto"
	"github.com/pkg/errors"
	"github.com/xiaonanln/netconnutil"
	"github.com/xtaci/kcp-go"
)

// Bot is one simulated player
type Bot struct {
	id            int
	prestigeLevel int
	pc            *netutil.PacketConn
	dogs          map[common.DogID]proto.DogInfo
}

func newBot(id int, prestigeLevel int) *Bot {
	return &Bot{
		id:            id,
		prestigeLevel: prestigeLevel,
		dogs:          map[common.DogID]proto.DogInfo{},
	}
}

func (bot *Bot) String() string {
	return fmt.Sprintf("Bot<%d>", bot.id)
}

func (bot *Bot) identity() string {
	return fmt.Sprintf("bot%d", bot.id)
}

func (bot *Bot) connect(addr string, useKCP bool) error {
	var netconn net.Conn
	var err error
	for retry := 0; ; retry++ {
		if useKCP {
			var sess *kcp.UDPSession
			sess, err = kcp.DialWithOptions(addr, nil, 10, 3)
			if err == nil {
				sess.SetStreamMode(true)
				sess.SetWriteDelay(true)
				sess.SetNoDelay(1, 10, 2, 1)
				netconn = sess
			}
		} else {
			netconn, err = net.Dial("tcp", addr)
		}
		if err == nil {
			break
		}
		if retry >= 10 {
			return errors.Wrapf(err, "connect %s", addr)
		}
		gwlog.Errorf("%s: connect failed: %s", bot, err)
		time.Sleep(time.Second * time.Duration(1+rand.Intn(3)))
	}
	gwlog.Infof("%s: connected to %s", bot, netconn.RemoteAddr())
	conn := netconnutil.NewNoTempErrorConn(netconn)
	bot.pc = netutil.NewPacketConn(conn)
	return nil
}

func (bot *Bot) run(addr string, useKCP bool, actions int, delay time.Duration) {
	if err := bot.connect(addr, useKCP); err != nil {
		gwlog.Errorf("%s: %s", bot, err)
		return
	}
	defer bot.pc.Close()

	if _, err := bot.call(proto.Command{Type: proto.CMD_AUTHENTICATE, Identity: bot.identity()}); err != nil {
		gwlog.Errorf("%s: authenticate failed: %s", bot, err)
		return
	}
	if _, err := bot.call(proto.Command{Type: proto.CMD_GET_DOGS}); err != nil {
		gwlog.Errorf("%s: list dogs failed: %s", bot, err)
		return
	}

	for i := 0; i < actions; i++ {
		// jittered think time so the bot does not look scripted
		time.Sleep(time.Duration(rand.Int63n(int64(2*delay) + 1)))
		if _, err := bot.call(bot.nextCommand()); err != nil {
			gwlog.Errorf("%s: %s", bot, err)
			return
		}
	}
	gwlog.Infof("%s: done, %d dogs", bot, len(bot.dogs))
}

// call sends cmd, waits for its response and applies it to the local view
func (bot *Bot) call(cmd proto.Command) (*proto.Response, error) {
	data, err := proto.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	op := opmon.StartOperation("bot." + cmd.Type.String())
	defer op.Finish(time.Second)

	if err := bot.pc.SendPacket(data); err != nil {
		return nil, errors.Wrapf(err, "send %s", cmd)
	}
	payload, err := bot.pc.RecvPacket()
	if err != nil {
		return nil, errors.Wrapf(err, "recv %s", cmd)
	}
	resp, err := proto.DecodeResponse(payload)
	if err != nil {
		return nil, err
	}
	switch resp.Kind {
	case proto.RESP_REPLACED, proto.RESP_TIMEOUT, proto.RESP_SHUTDOWN:
		return resp, errors.Errorf("disconnected by server: %s", resp.Reason)
	}
	bot.apply(cmd, resp)
	return resp, nil
}

func (bot *Bot) apply(cmd proto.Command, resp *proto.Response) {
	switch resp.Kind {
	case proto.RESP_ERROR:
		gwlog.Debugf("%s: %s rejected: %s %s", bot, cmd, resp.Code, resp.Reason)
	case proto.RESP_DOGS:
		bot.dogs = map[common.DogID]proto.DogInfo{}
		for _, d := range resp.Dogs {
			bot.dogs[common.DogID(d.ID)] = d
		}
	case proto.RESP_DOG:
		if cmd.Type == proto.CMD_MERGE {
			delete(bot.dogs, cmd.DogID1)
			delete(bot.dogs, cmd.DogID2)
		}
		bot.dogs[common.DogID(resp.Dog.ID)] = *resp.Dog
	}
}

// nextCommand merges the two lowest ids of the lowest level that has a pair, prestiges a dog at
// the prestige level, and mints otherwise
func (bot *Bot) nextCommand() proto.Command {
	byLevel := map[int][]common.DogID{}
	for id, d := range bot.dogs {
		if d.Level >= bot.prestigeLevel {
			return proto.Command{Type: proto.CMD_PRESTIGE_RESET, DogID1: id}
		}
		byLevel[d.Level] = append(byLevel[d.Level], id)
	}

	levels := make([]int, 0, len(byLevel))
	for level, ids := range byLevel {
		if len(ids) >= 2 {
			levels = append(levels, level)
		}
	}
	if len(levels) == 0 {
		return proto.Command{Type: proto.CMD_MINT}
	}
	sort.Ints(levels)
	ids := byLevel[levels[0]]
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return proto.Command{Type: proto.CMD_MERGE, DogID1: ids[0], DogID2: ids[1]}
}
