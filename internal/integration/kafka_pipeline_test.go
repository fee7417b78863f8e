//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/covid-data-etl/internal/adapter/fetch"
	"github.com/couchcryptid/covid-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/covid-data-etl/internal/observability"
	"github.com/couchcryptid/covid-data-etl/internal/pipeline"
)

const header = "Province/State,Country/Region,Lat,Long,1/22/20,1/23/20\n"

var sources = map[string]string{
	"/confirmed.csv": header + ",Chad,15.4542,18.7322,0,1\nAlberta,Canada,53.9333,-116.5765,2,3\n",
	"/deaths.csv":    header + ",Chad,15.4542,18.7322,0,0\nAlberta,Canada,53.9333,-116.5765,0,1\n",
	"/recovered.csv": header + "Alberta,Canada,53.9333,-116.5765,0,2\n",
	"/lookup.csv":    "UID,iso2,iso3,code3,FIPS,Admin2,Province_State,Country_Region,Lat,Long_,Combined_Key,Population\n" +
		"148,TD,TCD,148,,,,Chad,15.4542,18.7322,Chad,16425859\n" +
		"124,CA,CAN,124,,,,Canada,60.001,-95.001,Canada,37855702\n",
}

// document is the subset of a joined record the assertions look at.
type document struct {
	Region     string `json:"country/region"`
	SubRegion  string `json:"province/state"`
	ISO2       string `json:"iso2"`
	TimeSeries []struct {
		Date      string `json:"date"`
		Confirmed int64  `json:"confirmed"`
		Deaths    int64  `json:"deaths"`
		Recovered int64  `json:"recovered"`
	} `json:"time_series"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("covid-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a compacted single-partition topic through the controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
		ConfigEntries: []kafkago.ConfigEntry{
			{ConfigName: "cleanup.policy", ConfigValue: "compact"},
		},
	}))
}

func serveSources(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := sources[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readDocuments(ctx context.Context, t *testing.T, broker, topic string, n int) ([]kafkago.Message, map[string]document) {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msgs := make([]kafkago.Message, 0, n)
	docs := make(map[string]document, n)
	for len(msgs) < n {
		msg, err := consumer.ReadMessage(readCtx)
		require.NoError(t, err, "read from documents topic")
		var doc document
		require.NoError(t, json.Unmarshal(msg.Value, &doc))
		msgs = append(msgs, msg)
		docs[string(msg.Key)] = doc
	}
	return msgs, docs
}

// TestPipelineToKafka runs the joined pipeline against HTTP sources and a
// real broker, then reads the published documents back.
func TestPipelineToKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "covid-timeseries-test"
	createTopic(t, broker, topic)

	srv := serveSources(t)

	writer := kafka.NewWriter([]string{broker}, topic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	runner := pipeline.New(
		fetch.NewClient(10*time.Second, discardLogger()),
		writer,
		pipeline.Options{
			Variant: pipeline.VariantJoined,
			Sources: pipeline.Sources{
				Confirmed: srv.URL + "/confirmed.csv",
				Deaths:    srv.URL + "/deaths.csv",
				Recovered: srv.URL + "/recovered.csv",
				Lookup:    srv.URL + "/lookup.csv",
			},
		},
		discardLogger(),
		observability.NewMetricsForTesting(),
		clockwork.NewRealClock(),
	)

	summary, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Written())

	msgs, docs := readDocuments(ctx, t, broker, topic, 2)

	headers := make(map[string]string)
	for _, h := range msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "application/json", headers["content_type"])
	_, err = time.Parse(time.RFC3339, headers["processed_at"])
	assert.NoError(t, err, "processed_at should be valid RFC3339")

	chad := docs["Chad.json"]
	assert.Equal(t, "TD", chad.ISO2)
	require.Len(t, chad.TimeSeries, 2)
	assert.Equal(t, "2020-01-23", chad.TimeSeries[1].Date)
	assert.Equal(t, int64(1), chad.TimeSeries[1].Confirmed)
	assert.Equal(t, int64(0), chad.TimeSeries[1].Recovered)

	alberta := docs["Canada-Alberta.json"]
	assert.Equal(t, "Alberta", alberta.SubRegion)
	assert.Equal(t, "CA", alberta.ISO2)
	require.Len(t, alberta.TimeSeries, 2)
	assert.Equal(t, int64(3), alberta.TimeSeries[1].Confirmed)
	assert.Equal(t, int64(1), alberta.TimeSeries[1].Deaths)
	assert.Equal(t, int64(2), alberta.TimeSeries[1].Recovered)
}

// TestPipelineFetchErrorPublishesNothing checks that a failed source fetch
// stops the run before any document reaches the topic.
func TestPipelineFetchErrorPublishesNothing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	const topic = "covid-timeseries-fetch-error"
	createTopic(t, broker, topic)

	srv := serveSources(t)

	writer := kafka.NewWriter([]string{broker}, topic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	runner := pipeline.New(
		fetch.NewClient(10*time.Second, discardLogger()),
		writer,
		pipeline.Options{
			Variant: pipeline.VariantJoined,
			Sources: pipeline.Sources{
				Confirmed: srv.URL + "/confirmed.csv",
				Deaths:    srv.URL + "/missing.csv",
				Recovered: srv.URL + "/recovered.csv",
				Lookup:    srv.URL + "/lookup.csv",
			},
		},
		discardLogger(),
		observability.NewMetricsForTesting(),
		clockwork.NewRealClock(),
	)

	_, err := runner.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch deaths source")

	conn, err := kafkago.DialLeader(ctx, "tcp", broker, topic, 0)
	require.NoError(t, err)
	defer conn.Close()
	last, err := conn.ReadLastOffset()
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}
