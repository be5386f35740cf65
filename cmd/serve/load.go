package serve

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ValentinKolb/btcache/lib/env"
	"golang.org/x/time/rate"
)

// loadDatabase is the database the load generator writes to
const loadDatabase = "load"

// load writes random keys into one environment at a fixed rate. Every
// fourth operation is a read so evicted nodes are faulted back in.
type load struct {
	env     *env.Environment
	limiter *rate.Limiter
	keys    int
	value   []byte
	rnd     *rand.Rand
}

func newLoad(e *env.Environment, perSecond, keys, valueSize int) *load {
	if keys < 1 {
		keys = 1
	}
	return &load{
		env:     e,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond/10+1),
		keys:    keys,
		value:   make([]byte, valueSize),
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *load) run(ctx context.Context) error {
	Logger.Infof("%s: load generator started (%v ops/s, %d keys)", l.env.Name(), l.limiter.Limit(), l.keys)
	for n := 0; ; n++ {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		key := []byte(fmt.Sprintf("load-%09d", l.rnd.Intn(l.keys)))
		if n%4 == 3 {
			if _, _, err := l.env.Get(loadDatabase, key); err != nil {
				return err
			}
			continue
		}
		l.rnd.Read(l.value)
		if err := l.env.Put(loadDatabase, key, l.value); err != nil {
			return err
		}
	}
}
