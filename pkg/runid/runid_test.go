package runid

import (
	"context"
	"regexp"
	"testing"
	"time"
)

func TestGenFormat(t *testing.T) {
	id := Gen()
	if ok, _ := regexp.MatchString(`^[0-9]{14}-[0-9a-f]{8}$`, id); !ok {
		t.Fatalf("unexpected id format: %q", id)
	}
	if Gen() == id {
		t.Fatalf("ids should differ")
	}
}

func TestTimeString(t *testing.T) {
	got := timeString(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	if got != "20240506070809" {
		t.Fatalf("timeString=%q", got)
	}
}

func TestContext(t *testing.T) {
	if From(context.Background()) != "" {
		t.Fatalf("empty ctx should have no id")
	}
	ctx := With(context.Background(), "abc")
	if From(ctx) != "abc" {
		t.Fatalf("From=%q", From(ctx))
	}
	same, id := Ensure(ctx)
	if id != "abc" || same != ctx {
		t.Fatalf("Ensure should keep existing id")
	}
	_, id = Ensure(context.Background())
	if id == "" {
		t.Fatalf("Ensure should generate an id")
	}
}
