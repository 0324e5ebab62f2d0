package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dwikikusuma/marketplace-cart/internal/cart/app"
	"github.com/dwikikusuma/marketplace-cart/internal/cart/infra/kvrepo"
	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv/memory"
)

func TestHTTPStatusFromError(t *testing.T) {
	t.Run("InvalidInput -> 400", func(t *testing.T) {
		err := fmt.Errorf("%w: product id is blank", app.ErrInvalidInput)
		gotStatus, gotCode, _ := httpStatusFromError(err)
		if gotStatus != http.StatusBadRequest || gotCode != "INVALID_ARGUMENT" {
			t.Fatalf("got (%d,%s)", gotStatus, gotCode)
		}
	})

	t.Run("NoStore -> 500", func(t *testing.T) {
		gotStatus, gotCode, _ := httpStatusFromError(app.ErrNoStore)
		if gotStatus != http.StatusInternalServerError || gotCode != "NO_STORE" {
			t.Fatalf("got (%d,%s)", gotStatus, gotCode)
		}
	})

	t.Run("DeadlineExceeded -> 503", func(t *testing.T) {
		gotStatus, gotCode, _ := httpStatusFromError(context.DeadlineExceeded)
		if gotStatus != http.StatusServiceUnavailable || gotCode != "UNAVAILABLE" {
			t.Fatalf("got (%d,%s)", gotStatus, gotCode)
		}
	})

	t.Run("unknown error -> 500 without details", func(t *testing.T) {
		gotStatus, gotCode, msg := httpStatusFromError(errors.New("boom"))
		if gotStatus != http.StatusInternalServerError || gotCode != "INTERNAL" || strings.Contains(msg, "boom") {
			t.Fatalf("got (%d,%s,%s)", gotStatus, gotCode, msg)
		}
	})
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, store CartStore) *httptest.Server {
	t.Helper()
	return newTestServerWithStorage(t, store, nil)
}

func newTestServerWithStorage(t *testing.T, store CartStore, storage Pinger) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewHandler(store, storage, log).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func newLoadedStore(t *testing.T) *app.Store {
	t.Helper()
	s := app.NewStore(kvrepo.NewCartRepo(memory.New(), ""), app.Options{})
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
	}
	return resp, out
}

func itemQuantity(t *testing.T, body map[string]any, i int) float64 {
	t.Helper()
	items, ok := body["items"].([]any)
	if !ok || len(items) <= i {
		t.Fatalf("no item %d in %v", i, body)
	}
	return items[i].(map[string]any)["quantity"].(float64)
}

func TestCartFlow(t *testing.T) {
	srv := newTestServer(t, newLoadedStore(t))

	resp, body := do(t, http.MethodGet, srv.URL+"/cart", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get cart: %d", resp.StatusCode)
	}
	if items := body["items"].([]any); len(items) != 0 {
		t.Fatalf("expected empty cart, got %v", items)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("missing request id")
	}

	product := `{"id":"p1","title":"Mug","image_url":"img/p1","price":"7.50"}`
	_, body = do(t, http.MethodPost, srv.URL+"/cart/items", product)
	if q := itemQuantity(t, body, 0); q != 1 {
		t.Fatalf("after first add: %v", q)
	}
	if price := body["items"].([]any)[0].(map[string]any)["price"]; price != 7.5 {
		t.Fatalf("price: %#v", price)
	}

	_, body = do(t, http.MethodPost, srv.URL+"/cart/items", product)
	if q := itemQuantity(t, body, 0); q != 2 {
		t.Fatalf("after second add: %v", q)
	}
	if body["subtotal"] != float64(15) || body["total_quantity"].(float64) != 2 {
		t.Fatalf("totals: %v", body)
	}

	_, body = do(t, http.MethodPost, srv.URL+"/cart/items/p1/increment", "")
	if q := itemQuantity(t, body, 0); q != 3 {
		t.Fatalf("after increment: %v", q)
	}

	for i := 0; i < 4; i++ {
		_, body = do(t, http.MethodPost, srv.URL+"/cart/items/p1/decrement", "")
	}
	if q := itemQuantity(t, body, 0); q != 0 {
		t.Fatalf("after decrements: %v", q)
	}
	if body["loaded"] != true {
		t.Fatalf("loaded flag: %v", body["loaded"])
	}
}

func TestAddItemErrors(t *testing.T) {
	srv := newTestServer(t, newLoadedStore(t))

	t.Run("malformed body", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/cart/items", `{`)
		if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_ARGUMENT" {
			t.Fatalf("got %d %v", resp.StatusCode, body)
		}
	})

	t.Run("blank id", func(t *testing.T) {
		resp, body := do(t, http.MethodPost, srv.URL+"/cart/items", `{"id":"  ","price":1}`)
		if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_ARGUMENT" {
			t.Fatalf("got %d %v", resp.StatusCode, body)
		}
	})
}

func TestNoStore(t *testing.T) {
	var missing *app.Store
	for name, store := range map[string]CartStore{"nil interface": nil, "nil store": missing} {
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t, store)

			resp, body := do(t, http.MethodGet, srv.URL+"/cart", "")
			if resp.StatusCode != http.StatusInternalServerError || body["code"] != "NO_STORE" {
				t.Fatalf("got %d %v", resp.StatusCode, body)
			}

			resp, _ = do(t, http.MethodGet, srv.URL+"/readyz", "")
			if resp.StatusCode != http.StatusServiceUnavailable {
				t.Fatalf("readyz: %d", resp.StatusCode)
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	s := app.NewStore(kvrepo.NewCartRepo(memory.New(), ""), app.Options{})
	srv := newTestServer(t, s)

	resp, _ := do(t, http.MethodGet, srv.URL+"/readyz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("before load: %d", resp.StatusCode)
	}

	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("after load: %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
}

func TestReadinessPingsStorage(t *testing.T) {
	s := newLoadedStore(t)

	t.Run("reachable", func(t *testing.T) {
		srv := newTestServerWithStorage(t, s, memory.New())
		resp, _ := do(t, http.MethodGet, srv.URL+"/readyz", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("readyz: %d", resp.StatusCode)
		}
	})

	t.Run("unreachable -> 503", func(t *testing.T) {
		srv := newTestServerWithStorage(t, s, stubPinger{err: errors.New("connection refused")})
		resp, _ := do(t, http.MethodGet, srv.URL+"/readyz", "")
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Fatalf("readyz: %d", resp.StatusCode)
		}

		resp, _ = do(t, http.MethodGet, srv.URL+"/cart", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("cart stays served from memory: %d", resp.StatusCode)
		}
	})
}
