package metrics_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/datastore"
	"github.com/xraph/datastore/plugin/metrics"
	"github.com/xraph/datastore/store/memory"
)

type author struct {
	ID   int64  `datastore:"id"`
	Name string `datastore:"name"`
}

func TestPluginRecordsSessionActivity(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	p, err := metrics.New(metrics.WithRegisterer(reg), metrics.WithNamespace("test"))
	if err != nil {
		t.Fatal(err)
	}

	ds, err := datastore.New(
		datastore.WithStore(memory.New()),
		datastore.WithRegistry(datastore.NewRegistry()),
		datastore.WithPlugin(p),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Register("Author", &author{}); err != nil {
		t.Fatal(err)
	}

	err = ds.WithTransaction(ctx, func(ctx context.Context, s *datastore.Session) error {
		if _, err := s.Persist(ctx, &author{Name: "Octavia"}); err != nil {
			return err
		}
		_, err := s.Persist(ctx, &author{Name: "Ursula"})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	rollback := errors.New("rollback")
	err = ds.WithTransaction(ctx, func(context.Context, *datastore.Session) error { return rollback })
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	if got := testutil.ToFloat64(p.Collector("sessions_open")); got != 0 {
		t.Fatalf("sessions_open = %v, want 0", got)
	}

	want := map[string]float64{
		`test_sessions_total{kind="stateful"}`:                     2,
		`test_flushes_total{result="success"}`:                     1,
		`test_flushed_operations_total{kind="insert"}`:             2,
		`test_entity_writes_total{entity="Author",kind="persist"}`: 2,
		`test_transactions_total{outcome="commit"}`:                1,
		`test_transactions_total{outcome="rollback"}`:              1,
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			if len(m.GetLabel()) > 0 {
				name += "{"
				for i, l := range m.GetLabel() {
					if i > 0 {
						name += ","
					}
					name += l.GetName() + `="` + l.GetValue() + `"`
				}
				name += "}"
			}
			if c := m.GetCounter(); c != nil {
				got[name] = c.GetValue()
			}
		}
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := metrics.New(metrics.WithRegisterer(reg)); err != nil {
		t.Fatal(err)
	}
	if _, err := metrics.New(metrics.WithRegisterer(reg)); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
