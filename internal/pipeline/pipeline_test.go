package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/covid-data-etl/internal/domain"
	"github.com/couchcryptid/covid-data-etl/internal/observability"
	"github.com/couchcryptid/covid-data-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockFetcher struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func (m *mockFetcher) Fetch(_ context.Context, url string) (string, error) {
	m.calls = append(m.calls, url)
	if err := m.errs[url]; err != nil {
		return "", err
	}
	body, ok := m.bodies[url]
	if !ok {
		return "", &domain.FetchError{URL: url, StatusCode: 404, Err: errors.New("not found")}
	}
	return body, nil
}

type mockStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
	fail    map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{objects: make(map[string][]byte), fail: make(map[string]error)}
}

func (m *mockStore) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, key)
	if err := m.fail[key]; err != nil {
		return err
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

const (
	confirmedURL = "https://example.test/confirmed.csv"
	deathsURL    = "https://example.test/deaths.csv"
	recoveredURL = "https://example.test/recovered.csv"
	lookupURL    = "https://example.test/lookup.csv"

	header = "Province/State,Country/Region,Lat,Long,3/1/20\n"
	lookup = "UID,iso2,iso3,code3,FIPS,Admin2,Province_State,Country_Region,Lat,Long_,Combined_Key,Population\n" +
		"148,TD,TCD,148,,,,Chad,15.4542,18.7322,Chad,16425859\n"
)

var testSources = pipeline.Sources{
	Confirmed: confirmedURL,
	Deaths:    deathsURL,
	Recovered: recoveredURL,
	Lookup:    lookupURL,
}

func chadFetcher() *mockFetcher {
	return &mockFetcher{bodies: map[string]string{
		confirmedURL: header + ",Chad,15.45,18.73,2\n",
		deathsURL:    header + ",Chad,15.45,18.73,0\n",
		recoveredURL: header,
		lookupURL:    lookup,
	}}
}

func newRunner(f pipeline.Fetcher, s pipeline.Store, opts pipeline.Options) (*pipeline.Runner, *observability.Metrics) {
	if opts.Sources == (pipeline.Sources{}) {
		opts.Sources = testSources
	}
	m := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(time.Date(2020, time.March, 2, 0, 0, 0, 0, time.UTC))
	return pipeline.New(f, s, opts, slog.Default(), m, clock), m
}

// --- tests ---

func TestRunner_Run_JoinedChad(t *testing.T) {
	store := newMockStore()
	r, m := newRunner(chadFetcher(), store, pipeline.Options{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	want := `{"province/state":"","country/region":"Chad","lat":15.45,"long":18.73,"iso2":"TD",` +
		`"time_series":[{"date":"2020-03-01","confirmed":2,"deaths":0,"recovered":0}]}`
	require.Contains(t, store.objects, "Chad.json")
	assert.JSONEq(t, want, string(store.objects["Chad.json"]))

	wantSummary := pipeline.Summary{Categories: []pipeline.CategoryStats{{
		Category: domain.CategoryCombined,
		Rows:     1,
		Written:  1,
		Missing:  1,
	}}}
	if diff := cmp.Diff(wantSummary, summary); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}

	assert.InDelta(t, 1, testutil.ToFloat64(m.RecordsWritten.WithLabelValues(domain.CategoryCombined)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MissingMatches.WithLabelValues(domain.CategoryRecovered)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.PipelineRunning), 0)
	assert.NoError(t, r.CheckReadiness(context.Background()))
}

func TestRunner_Run_Idempotent(t *testing.T) {
	store := newMockStore()
	r, _ := newRunner(chadFetcher(), store, pipeline.Options{})

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	first := string(store.objects["Chad.json"])

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, store.objects, 1)
	assert.Equal(t, first, string(store.objects["Chad.json"]))
}

func TestRunner_Run_DuplicateKeysFirstMatchWins(t *testing.T) {
	f := chadFetcher()
	f.bodies[deathsURL] = header + ",Chad,15.45,18.73,1\n,Chad,15.45,18.73,9\n"
	store := newMockStore()
	r, _ := newRunner(f, store, pipeline.Options{})

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, string(store.objects["Chad.json"]), `"deaths":1`)
}

func TestRunner_Run_DuplicatePrimaryRowsLastWriteWins(t *testing.T) {
	f := chadFetcher()
	f.bodies[confirmedURL] = header + ",Chad,15.45,18.73,2\n,Chad,15.45,18.73,5\n"
	store := newMockStore()
	r, _ := newRunner(f, store, pipeline.Options{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Written())
	assert.Equal(t, []string{"Chad.json", "Chad.json"}, store.puts)
	assert.Contains(t, string(store.objects["Chad.json"]), `"confirmed":5`)
}

func TestRunner_Run_RowErrorPolicy(t *testing.T) {
	body := header + ",Chad,15.45,18.73,abc\n,Niger,17.6,8.08,3\n"

	t.Run("abort", func(t *testing.T) {
		f := chadFetcher()
		f.bodies[confirmedURL] = body
		store := newMockStore()
		r, _ := newRunner(f, store, pipeline.Options{RowErrors: pipeline.RowErrorAbort})

		_, err := r.Run(context.Background())
		require.Error(t, err)

		var fe *domain.FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "abc", fe.Value)
		assert.Empty(t, store.objects)
		assert.Error(t, r.CheckReadiness(context.Background()))
	})

	t.Run("skip", func(t *testing.T) {
		f := chadFetcher()
		f.bodies[confirmedURL] = body
		store := newMockStore()
		r, m := newRunner(f, store, pipeline.Options{RowErrors: pipeline.RowErrorSkip})

		summary, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"Niger.json"}, store.puts)
		assert.Equal(t, 1, summary.Categories[0].RowErrors)
		assert.InDelta(t, 1, testutil.ToFloat64(m.RowErrors.WithLabelValues(domain.CategoryCombined)), 0)
	})

	t.Run("skip non-finite coordinate", func(t *testing.T) {
		f := chadFetcher()
		f.bodies[confirmedURL] = header + ",Chad,NaN,18.73,2\n,Mali,17.57,Inf,4\n,Niger,17.6,8.08,3\n"
		store := newMockStore()
		r, m := newRunner(f, store, pipeline.Options{RowErrors: pipeline.RowErrorSkip})

		summary, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"Niger.json"}, store.puts)
		assert.Equal(t, 2, summary.Categories[0].RowErrors)
		assert.InDelta(t, 2, testutil.ToFloat64(m.RowErrors.WithLabelValues(domain.CategoryCombined)), 0)
	})

	t.Run("abort non-finite coordinate", func(t *testing.T) {
		f := chadFetcher()
		f.bodies[confirmedURL] = header + ",Chad,NaN,18.73,2\n"
		store := newMockStore()
		r, _ := newRunner(f, store, pipeline.Options{RowErrors: pipeline.RowErrorAbort})

		_, err := r.Run(context.Background())
		var fe *domain.FormatError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, domain.ColumnLat, fe.Column)
		assert.Empty(t, store.puts)
	})
}

func TestRunner_Run_StoreFailurePolicy(t *testing.T) {
	body := header + ",Chad,15.45,18.73,2\n,Niger,17.6,8.08,3\n"
	denied := &domain.StoreError{Key: "Chad.json", Driver: "s3", StatusCode: 403, Err: errors.New("access denied")}

	t.Run("continue", func(t *testing.T) {
		f := chadFetcher()
		f.bodies[confirmedURL] = body
		store := newMockStore()
		store.fail["Chad.json"] = denied
		r, m := newRunner(f, store, pipeline.Options{StoreFailures: pipeline.StoreFailureContinue})

		summary, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"Chad.json", "Niger.json"}, store.puts)
		assert.Contains(t, store.objects, "Niger.json")
		assert.Equal(t, 1, summary.Categories[0].StoreFailures)
		assert.Equal(t, 1, summary.Written())
		assert.InDelta(t, 1, testutil.ToFloat64(m.StoreFailures.WithLabelValues(domain.CategoryCombined)), 0)
	})

	t.Run("abort", func(t *testing.T) {
		f := chadFetcher()
		f.bodies[confirmedURL] = body
		store := newMockStore()
		store.fail["Chad.json"] = errors.New("connection reset")
		r, _ := newRunner(f, store, pipeline.Options{StoreFailures: pipeline.StoreFailureAbort})

		_, err := r.Run(context.Background())
		require.Error(t, err)

		var se *domain.StoreError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "Chad.json", se.Key)
		assert.Equal(t, []string{"Chad.json"}, store.puts)
	})
}

func TestRunner_Run_SingleVariantPartitioned(t *testing.T) {
	f := chadFetcher()
	f.bodies[recoveredURL] = header + ",Chad,15.45,18.73,1\n"
	store := newMockStore()
	r, _ := newRunner(f, store, pipeline.Options{
		Variant: pipeline.VariantSingle,
		Keys:    domain.KeyScheme{Mode: domain.KeyModePartitioned, Prefix: "partitioned"},
	})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"partitioned/type=confirmed/Chad.json",
		"partitioned/type=deaths/Chad.json",
		"partitioned/type=recovered/Chad.json",
	}, store.puts)
	assert.JSONEq(t,
		`{"province/state":"","country/region":"Chad","lat":15.45,"long":18.73,"time_series":[{"date":"2020-03-01","value":0}]}`,
		string(store.objects["partitioned/type=deaths/Chad.json"]))
	assert.Len(t, summary.Categories, 3)
	assert.NotContains(t, f.calls, lookupURL, "single variant never reads the lookup table")
}

func TestRunner_Run_FetchErrorIsFatal(t *testing.T) {
	f := chadFetcher()
	f.errs = map[string]error{
		deathsURL: &domain.FetchError{URL: deathsURL, StatusCode: 500, Err: errors.New("server error")},
	}
	store := newMockStore()
	r, _ := newRunner(f, store, pipeline.Options{})

	_, err := r.Run(context.Background())
	require.Error(t, err)

	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 500, fe.StatusCode)
	assert.Empty(t, store.puts)
}

func TestRunner_Run_ContextCancelled(t *testing.T) {
	store := newMockStore()
	r, _ := newRunner(chadFetcher(), store, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.puts)
}

func TestRunner_Run_EmptyPrimaryTable(t *testing.T) {
	f := chadFetcher()
	f.bodies[confirmedURL] = header
	store := newMockStore()
	r, _ := newRunner(f, store, pipeline.Options{})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Written())
	assert.Empty(t, store.puts)
}

func TestRunner_Run_ManyRegions(t *testing.T) {
	confirmed := header
	deaths := header
	for i := 0; i < 50; i++ {
		confirmed += fmt.Sprintf(",Region %02d,0,0,%d\n", i, i)
		deaths += fmt.Sprintf(",Region %02d,0,0,1\n", i)
	}
	f := chadFetcher()
	f.bodies[confirmedURL] = confirmed
	f.bodies[deathsURL] = deaths
	store := newMockStore()
	r, _ := newRunner(f, store, pipeline.Options{Keys: domain.KeyScheme{Mode: domain.KeyModeFlat, Prefix: "covid"}})

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, summary.Written())
	assert.Contains(t, store.objects, "covid/Region 07.json")
}

func TestRowTransformer_Transform(t *testing.T) {
	h := domain.NewHeader([]string{domain.ColumnSubRegion, domain.ColumnRegion, "3/1/20"})
	primary := domain.NewRow(h, []string{"", "Chad", "2"})

	t.Run("single", func(t *testing.T) {
		rec, diags, err := pipeline.NewTransformer(nil).Transform(primary)
		require.NoError(t, err)
		assert.Empty(t, diags)
		assert.Equal(t, int64(2), *rec.TimeSeries[0].Value)
	})

	t.Run("joined without counterparts", func(t *testing.T) {
		j := domain.NewJoiner(nil, nil, nil)
		rec, diags, err := pipeline.NewTransformer(j).Transform(primary)
		require.NoError(t, err)
		assert.Len(t, diags, 2)
		assert.Nil(t, rec.ISO2)
		assert.Equal(t, int64(0), *rec.TimeSeries[0].Deaths)
	})
}

func TestRunner_Status(t *testing.T) {
	store := newMockStore()
	r, _ := newRunner(chadFetcher(), store, pipeline.Options{})

	before := r.Status()
	assert.False(t, before.Running)
	assert.False(t, before.Ready)
	assert.Nil(t, before.StartedAt)
	assert.Empty(t, before.Categories)

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	after := r.Status()
	assert.False(t, after.Running)
	assert.True(t, after.Ready)
	require.NotNil(t, after.FinishedAt)
	assert.Empty(t, after.LastError)
	require.Len(t, after.Categories, 1)
	assert.Equal(t, 1, after.Categories[0].Written)
}

func TestRunner_Status_RecordsFailure(t *testing.T) {
	f := chadFetcher()
	f.bodies[confirmedURL] = header + ",Chad,15.45,18.73,abc\n"
	r, _ := newRunner(f, newMockStore(), pipeline.Options{})

	_, err := r.Run(context.Background())
	require.Error(t, err)

	st := r.Status()
	assert.False(t, st.Ready)
	assert.Contains(t, st.LastError, "abc")
}

func TestRunner_Run_UnknownVariant(t *testing.T) {
	r, m := newRunner(chadFetcher(), newMockStore(), pipeline.Options{Variant: "triple"})

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triple")
	assert.InDelta(t, 0, testutil.ToFloat64(m.PipelineRunning), 0)
}
