package transport

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/pzhenzhou/respcmd/pkg/command"
	"github.com/pzhenzhou/respcmd/pkg/common"
	"github.com/pzhenzhou/respcmd/pkg/respio"
	"github.com/redis/go-redis/v9"
)

// GoRedis sends commands through a go-redis client and converts its decoded
// values back into packets. go-redis does not keep the simple/bulk string
// distinction, so every string comes back as a simple string.
type GoRedis struct {
	client redis.UniversalClient
}

func NewGoRedis(client redis.UniversalClient) *GoRedis {
	return &GoRedis{client: client}
}

// NewGoRedisFromConfig builds a single-node client for cfg.
func NewGoRedisFromConfig(cfg *common.ClientConfig) *GoRedis {
	return NewGoRedis(redis.NewClient(&redis.Options{
		Addr:         cfg.Server.Addr,
		Username:     cfg.Server.Username,
		Password:     cfg.Server.Password,
		PoolSize:     cfg.Ring.Size,
		DialTimeout:  cfg.Ring.DialTimeout,
		ReadTimeout:  cfg.Ring.ReplyTimeout,
		WriteTimeout: cfg.Ring.ReplyTimeout,
		Protocol:     2,
	}))
}

// Send implements dispatch.Transport. Server error replies become error
// packets; every other error is returned as it is.
func (g *GoRedis) Send(ctx context.Context, args command.Args) (*respio.RespPacket, error) {
	val, err := g.client.Do(ctx, args...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return respio.NilPacket, nil
		}
		var redisErr redis.Error
		if errors.As(err, &redisErr) {
			return respio.NewErrorPacket(redisErr.Error()), nil
		}
		return nil, err
	}
	return toPacket(val)
}

func (g *GoRedis) Close() error {
	return g.client.Close()
}

func toPacket(val any) (*respio.RespPacket, error) {
	switch v := val.(type) {
	case nil:
		return respio.NilPacket, nil
	case string:
		return respio.NewStatusPacket(v), nil
	case int64:
		return respio.NewIntPacket(v), nil
	case float64:
		return &respio.RespPacket{Type: respio.RespFloat, Data: []byte(strconv.FormatFloat(v, 'f', -1, 64))}, nil
	case bool:
		data := []byte("f")
		if v {
			data = []byte("t")
		}
		return &respio.RespPacket{Type: respio.RespBool, Data: data}, nil
	case *big.Int:
		return &respio.RespPacket{Type: respio.RespBigInt, Data: []byte(v.String())}, nil
	case redis.Error:
		return respio.NewErrorPacket(v.Error()), nil
	case []any:
		items := make([]*respio.RespPacket, 0, len(v))
		for _, item := range v {
			p, err := toPacket(item)
			if err != nil {
				return nil, err
			}
			items = append(items, p)
		}
		return respio.NewArrayPacket(items...), nil
	case map[any]any:
		kvs := make([]*respio.RespPacket, 0, 2*len(v))
		for key, item := range v {
			k, err := toPacket(key)
			if err != nil {
				return nil, err
			}
			p, err := toPacket(item)
			if err != nil {
				return nil, err
			}
			kvs = append(kvs, k, p)
		}
		return respio.NewMapPacket(kvs...), nil
	default:
		return nil, fmt.Errorf("respcmd transport: unsupported go-redis value %T", val)
	}
}
