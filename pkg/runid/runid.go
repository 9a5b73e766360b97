package runid

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key is the log attribute name carrying the run id.
const Key = "run_id"

type ctxKey struct{}

// Gen returns a run id: yyyymmddHHMMSS plus the first 8 hex digits of a
// random UUID, e.g. 20240506070809-1b4e28ba.
func Gen() string {
	return timeString(time.Now()) + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func timeString(t time.Time) string {
	return t.Format("20060102150405")
}

// With stores id in ctx.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the run id stored in ctx, or "".
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// Ensure returns ctx with a run id, generating one when absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := From(ctx); id != "" {
		return ctx, id
	}
	id := Gen()
	return With(ctx, id), id
}
