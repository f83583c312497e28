package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/forge"
	fhttp "github.com/xraph/go-utils/http"

	"github.com/xraph/datastore"
)

func persistForgeHandler(t *testing.T, ds *datastore.Datastore, fail error) forge.Handler {
	return func(ctx forge.Context) error {
		s, err := ds.CurrentSession(ctx.Context())
		if err != nil {
			t.Errorf("expected bound session: %v", err)
			return err
		}
		if _, err := s.Persist(ctx.Context(), &author{Name: "Ursula"}); err != nil {
			t.Errorf("persist: %v", err)
		}
		return fail
	}
}

func serveForge(h forge.Handler, method string) error {
	ctx := fhttp.NewContext(httptest.NewRecorder(), httptest.NewRequest(method, "/authors", nil), nil)
	return h(ctx)
}

func TestRequireFlushesSuccessfulWrites(t *testing.T) {
	ds := newTestDatastore(t)
	h := Require(ds)(persistForgeHandler(t, ds, nil))

	if err := serveForge(h, http.MethodPost); err != nil {
		t.Fatal(err)
	}
	if n := countAuthors(t, ds); n != 1 {
		t.Fatalf("expected 1 author, got %d", n)
	}
	if n := ds.OpenSessions(); n != 0 {
		t.Fatalf("expected request session to be closed, %d open", n)
	}
}

func TestRequireDiscardsFailedAndReadOnlyRequests(t *testing.T) {
	ds := newTestDatastore(t)
	errBoom := errors.New("boom")

	if err := serveForge(Require(ds)(persistForgeHandler(t, ds, errBoom)), http.MethodPost); !errors.Is(err, errBoom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := serveForge(Require(ds)(persistForgeHandler(t, ds, nil)), http.MethodGet); err != nil {
		t.Fatal(err)
	}
	if n := countAuthors(t, ds); n != 0 {
		t.Fatalf("expected no authors, got %d", n)
	}
	if n := ds.OpenSessions(); n != 0 {
		t.Fatalf("expected request sessions to be closed, %d open", n)
	}
}
