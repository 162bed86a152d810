package processors

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/processor"
	"github.com/loykin/clogs/internal/store"
)

var repeatSuffix = regexp.MustCompile(` x(\d+)$`)

// SplitRepeat splits "msg xN" into ("msg", N). Messages without the suffix
// count once.
func SplitRepeat(msg string) (string, int) {
	m := repeatSuffix.FindStringSubmatchIndex(msg)
	if m == nil {
		return msg, 1
	}
	n, err := strconv.Atoi(msg[m[2]:m[3]])
	if err != nil {
		return msg, 1
	}
	return msg[:m[0]], n
}

// LogCompressor folds a log line that repeats the container's latest line into
// that line's " xN" counter instead of storing it again.
type LogCompressor struct {
	processor.Base
	env processor.Env
}

func NewLogCompressor(env processor.Env) (processor.Processor, error) {
	return &LogCompressor{env: withDefaults(env)}, nil
}

func (lc *LogCompressor) OnInsert(ctx context.Context, sess store.Session, e model.Entity) (model.Entity, error) {
	l := e.(*model.Log)
	q := store.NewQuery(model.TypeLog, store.Eq("container_id", l.ContainerID)).
		Order("timestamp", true).
		Take(1)
	latest, err := sess.Find(ctx, q)
	if err != nil || len(latest) == 0 {
		return nil, err
	}
	last := latest[0].(*model.Log)
	base, n := SplitRepeat(last.Message)
	if l.Message != base {
		return nil, nil
	}
	last.Message = fmt.Sprintf("%s x%d", base, n+1)
	last.Timestamp = l.Timestamp
	return last, nil
}
