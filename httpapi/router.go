package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/code-100-precent/LingCore/metrics"
	"github.com/code-100-precent/LingCore/storage"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

/*
 * ============================================================================
 * 管理与观测 HTTP 接口
 * ============================================================================
 *
 *   GET    /healthz
 *   GET    /metrics                     prometheus
 *   GET    /info                        内存、扩容策略、每个数据库的规模
 *   POST   /cron                        立即执行一次后台任务
 *   POST   /snapshot/begin|end          切换扩容策略
 *
 *   /db/:db 下：
 *   GET    /keys?pattern=               KEYS
 *   GET    /scan?cursor=&match=&count=  SCAN
 *   GET    /randomkey                   RANDOMKEY
 *   GET    /htstats                     DEBUG HTSTATS
 *   DELETE /flush                       FLUSHDB
 *   GET    /keys/:key                   类型、编码、TTL 和内容
 *   DELETE /keys/:key                   DEL
 *   POST   /keys/:key/expire            EXPIRE
 *   POST   /keys/:key/persist           PERSIST
 *   PUT    /strings/:key                SET
 *   POST   /lists/:key                  LPUSH / RPUSH
 *   POST   /lists/:key/pop              LPOP / RPOP
 *   GET    /lists/:key/range            LRANGE
 *   POST   /sets/:key                   SADD
 *   DELETE /sets/:key/members/:member   SREM
 *   PUT    /hashes/:key                 HSET
 *   GET    /hashes/:key/:field          HGET
 *   DELETE /hashes/:key/:field          HDEL
 */

const dbIndexKey = "lingcore.db"

// API HTTP 处理器
type API struct {
	server   *storage.RedisServer
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewAPI 创建处理器，gatherer 为 nil 时使用默认注册表
func NewAPI(server *storage.RedisServer, logger logrus.FieldLogger, m *metrics.Metrics, gatherer prometheus.Gatherer) *API {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &API{server: server, logger: logger, metrics: m, gatherer: gatherer}
}

// Router 注册全部路由
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.observe())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	r.GET("/info", a.info)
	r.POST("/cron", a.cron)
	r.POST("/snapshot/begin", a.snapshot(true))
	r.POST("/snapshot/end", a.snapshot(false))

	db := r.Group("/db/:db", a.selectDb)
	db.GET("/keys", a.keys)
	db.GET("/scan", a.scan)
	db.GET("/randomkey", a.randomKey)
	db.GET("/htstats", a.htstats)
	db.DELETE("/flush", a.flush)

	db.GET("/keys/:key", a.describe)
	db.DELETE("/keys/:key", a.del)
	db.POST("/keys/:key/expire", a.guardMemory, a.expire)
	db.POST("/keys/:key/persist", a.persist)

	db.PUT("/strings/:key", a.guardMemory, a.setString)
	db.POST("/lists/:key", a.guardMemory, a.listPush)
	db.POST("/lists/:key/pop", a.listPop)
	db.GET("/lists/:key/range", a.listRange)
	db.POST("/sets/:key", a.guardMemory, a.setAdd)
	db.DELETE("/sets/:key/members/:member", a.setRemove)
	db.PUT("/hashes/:key", a.guardMemory, a.hashSet)
	db.GET("/hashes/:key/:field", a.hashGet)
	db.DELETE("/hashes/:key/:field", a.hashDel)
	return r
}

// observe 记录访问日志和请求指标
func (a *API) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		a.metrics.RecordHTTPRequest(route, status)
		a.logger.WithFields(logrus.Fields{
			"action": "http_request",
			"method": c.Request.Method,
			"route":  route,
			"status": status,
			"took":   time.Since(start),
		}).Debug("request served")
	}
}

// selectDb 解析 :db 参数
func (a *API) selectDb(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("db"))
	if err == nil && (idx < 0 || idx >= a.server.GetDbNum()) {
		err = storage.ErrInvalidDbIndex
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid database index"})
		return
	}
	c.Set(dbIndexKey, idx)
	c.Next()
}

// guardMemory 超过软内存上限时拒绝写入
func (a *API) guardMemory(c *gin.Context) {
	if a.server.OverMaxMemory() {
		c.AbortWithStatusJSON(http.StatusInsufficientStorage, gin.H{
			"error": "OOM command not allowed when used memory > 'maxmemory'",
		})
		return
	}
	c.Next()
}

// exec 在选中的数据库上执行 fn，并把错误转换为 HTTP 状态码
func (a *API) exec(c *gin.Context, fn func(db *storage.RedisDb) error) bool {
	err := a.server.Exec(c.GetInt(dbIndexKey), fn)
	if err == nil {
		return true
	}

	var status int
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrWrongType):
		status = http.StatusConflict
		err = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	case errors.Is(err, storage.ErrInvalidDbIndex), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
		a.logger.WithField("action", "http_exec").WithError(err).Error("command failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
	return false
}
