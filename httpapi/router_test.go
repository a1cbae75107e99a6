package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/code-100-precent/LingCore/metrics"
	"github.com/code-100-precent/LingCore/storage"
	"github.com/code-100-precent/LingCore/structure"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	server *storage.RedisServer
	router *gin.Engine
	reg    *prometheus.Registry
}

func newFixture(t *testing.T, opts ...storage.Option) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	opts = append(opts, storage.WithLogger(logger), storage.WithMetrics(m))
	srv := storage.NewRedisServer(4, opts...)
	return &fixture{
		server: srv,
		router: NewAPI(srv, logger, m, reg).Router(),
		reg:    reg,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestInvalidDbIndex(t *testing.T) {
	f := newFixture(t)
	for _, db := range []string{"-1", "4", "abc"} {
		w := f.do(t, http.MethodGet, "/db/"+db+"/keys", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, db)
	}
}

func TestStringLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/db/0/strings/counter", gin.H{"value": "12345"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "int", decode(t, w)["encoding"])

	w = f.do(t, http.MethodPut, "/db/0/strings/name", gin.H{"value": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "embstr", decode(t, w)["encoding"])

	w = f.do(t, http.MethodGet, "/db/0/keys/name", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "string", got["type"])
	assert.Equal(t, "alice", got["value"])
	assert.EqualValues(t, -1, got["ttl"])

	w = f.do(t, http.MethodPost, "/db/0/keys/name/expire", gin.H{"seconds": 100})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["updated"])

	w = f.do(t, http.MethodGet, "/db/0/keys/name", nil)
	ttl := decode(t, w)["ttl"].(float64)
	assert.InDelta(t, 100, ttl, 1)

	w = f.do(t, http.MethodPost, "/db/0/keys/name/persist", nil)
	assert.Equal(t, true, decode(t, w)["updated"])

	w = f.do(t, http.MethodDelete, "/db/0/keys/name", nil)
	assert.Equal(t, true, decode(t, w)["deleted"])

	w = f.do(t, http.MethodGet, "/db/0/keys/name", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/db/1/lists/q", gin.H{"values": []string{"a", "b", "c"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["len"])

	w = f.do(t, http.MethodPost, "/db/1/lists/q", gin.H{"values": []string{"z"}, "where": "head"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/db/1/lists/q/range?start=0&stop=-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"z", "a", "b", "c"}, decode(t, w)["values"])

	w = f.do(t, http.MethodPost, "/db/1/lists/q/pop?where=tail", nil)
	assert.Equal(t, "c", decode(t, w)["value"])

	w = f.do(t, http.MethodPost, "/db/1/lists/q", gin.H{"values": []string{"x"}, "where": "middle"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/db/1/lists/q/range?start=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for range 3 {
		w = f.do(t, http.MethodPost, "/db/1/lists/q/pop", nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	// 弹空后键被删除
	w = f.do(t, http.MethodPost, "/db/1/lists/q/pop", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/db/0/sets/s", gin.H{"members": []string{"1", "2", "3", "2"}})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.EqualValues(t, 3, got["added"])
	assert.Equal(t, "intset", got["encoding"])

	w = f.do(t, http.MethodPost, "/db/0/sets/s", gin.H{"members": []string{"abc"}})
	assert.Equal(t, "hashtable", decode(t, w)["encoding"])

	w = f.do(t, http.MethodDelete, "/db/0/sets/s/members/abc", nil)
	assert.Equal(t, true, decode(t, w)["removed"])

	w = f.do(t, http.MethodGet, "/db/0/keys/s", nil)
	assert.ElementsMatch(t, []any{"1", "2", "3"}, decode(t, w)["value"])
}

func TestHashEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/db/0/hashes/user", gin.H{"fields": map[string]string{"name": "bob", "age": "30"}})
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.EqualValues(t, 2, got["created"])
	assert.Equal(t, "ziplist", got["encoding"])

	w = f.do(t, http.MethodGet, "/db/0/hashes/user/age", nil)
	assert.Equal(t, "30", decode(t, w)["value"])

	w = f.do(t, http.MethodGet, "/db/0/hashes/user/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/db/0/hashes/user/age", nil)
	assert.Equal(t, true, decode(t, w)["deleted"])
	w = f.do(t, http.MethodDelete, "/db/0/hashes/user/name", nil)
	assert.Equal(t, true, decode(t, w)["deleted"])

	w = f.do(t, http.MethodGet, "/db/0/keys/user", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWrongType(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPut, "/db/0/strings/k", gin.H{"value": "v"})

	w := f.do(t, http.MethodPost, "/db/0/lists/k", gin.H{"values": []string{"a"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "WRONGTYPE")

	w = f.do(t, http.MethodGet, "/db/0/hashes/k/f", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestKeysScanAndFlush(t *testing.T) {
	f := newFixture(t)
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		f.do(t, http.MethodPut, "/db/2/strings/"+k, gin.H{"value": "x"})
	}

	w := f.do(t, http.MethodGet, "/db/2/keys?pattern=user:*", nil)
	assert.ElementsMatch(t, []any{"user:1", "user:2"}, decode(t, w)["keys"])

	seen := map[string]bool{}
	cursor := "0"
	for {
		w = f.do(t, http.MethodGet, "/db/2/scan?count=1&cursor="+cursor, nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decode(t, w)
		for _, k := range got["keys"].([]any) {
			seen[k.(string)] = true
		}
		cursor = got["cursor"].(string)
		if cursor == "0" {
			break
		}
	}
	assert.Len(t, seen, 3)

	w = f.do(t, http.MethodGet, "/db/2/scan?count=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/db/2/randomkey", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/db/2/htstats", nil)
	assert.Contains(t, w.Body.String(), "[Dictionary HT]")

	w = f.do(t, http.MethodDelete, "/db/2/flush", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/db/2/randomkey", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotAndCron(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/snapshot/begin", nil)
	assert.Equal(t, "avoid", decode(t, w)["resize_policy"])
	w = f.do(t, http.MethodPost, "/snapshot/end", nil)
	assert.Equal(t, "enable", decode(t, w)["resize_policy"])

	w = f.do(t, http.MethodPost, "/cron", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "expired")

	f.do(t, http.MethodPut, "/db/3/strings/a", gin.H{"value": "1"})
	w = f.do(t, http.MethodGet, "/info", nil)
	got := decode(t, w)
	keyspace := got["keyspace"].([]any)
	require.Len(t, keyspace, 1)
	assert.EqualValues(t, 3, keyspace[0].(map[string]any)["db"])
}

func TestMaxMemoryRejectsWrites(t *testing.T) {
	f := newFixture(t, storage.WithMaxMemory(1))
	// 先越过上限：软限制不影响已经开始的写入
	require.NoError(t, f.server.Exec(0, func(db *storage.RedisDb) error {
		obj, err := db.GetOrCreate("big", storage.OBJ_LIST)
		if err != nil {
			return err
		}
		l, _ := obj.GetList()
		return l.Push([]byte("payload"), structure.QUICKLIST_TAIL)
	}))
	require.True(t, f.server.OverMaxMemory())

	w := f.do(t, http.MethodPut, "/db/0/strings/k", gin.H{"value": "v"})
	assert.Equal(t, http.StatusInsufficientStorage, w.Code)

	w = f.do(t, http.MethodGet, "/db/0/keys/big", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/healthz", nil)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lingcore_http_requests_total")
}
