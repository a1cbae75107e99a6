package httpapi

import (
	"net/http"
	"strconv"

	"github.com/code-100-precent/LingCore/storage"
	"github.com/code-100-precent/LingCore/structure"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return errors.Wrapf(errBadRequest, format, args...)
}

func toStrings(vals [][]byte) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func parseWhere(s string) (int, error) {
	switch s {
	case "head", "left":
		return structure.QUICKLIST_HEAD, nil
	case "", "tail", "right":
		return structure.QUICKLIST_TAIL, nil
	}
	return 0, badRequest("where must be head or tail, got %q", s)
}

type dbInfo struct {
	DB        int   `json:"db"`
	Keys      int   `json:"keys"`
	Expires   int   `json:"expires"`
	AvgTTL    int64 `json:"avg_ttl_ms"`
	Rehashing bool  `json:"rehashing"`
}

func (a *API) info(c *gin.Context) {
	dbs := make([]dbInfo, 0, a.server.GetDbNum())
	for i := 0; i < a.server.GetDbNum(); i++ {
		_ = a.server.Exec(i, func(db *storage.RedisDb) error {
			if db.DBSize() > 0 || db.IsRehashing() {
				dbs = append(dbs, dbInfo{
					DB:        i,
					Keys:      db.DBSize(),
					Expires:   db.ExpiresSize(),
					AvgTTL:    db.AvgTTL(),
					Rehashing: db.IsRehashing(),
				})
			}
			return nil
		})
	}
	used := a.server.MemoryUsed()
	c.JSON(http.StatusOK, gin.H{
		"used_memory":       used,
		"used_memory_human": structure.FormatBytes(used),
		"maxmemory":         a.server.MaxMemory(),
		"resize_policy":     a.server.ResizePolicy().String(),
		"hz":                a.server.Hz(),
		"keyspace":          dbs,
	})
}

func (a *API) cron(c *gin.Context) {
	st := a.server.CronOnce()
	c.JSON(http.StatusOK, gin.H{
		"expired":   st.Expired,
		"resized":   st.Resized,
		"rehashing": st.Rehashing,
		"took_us":   st.Duration.Microseconds(),
	})
}

func (a *API) snapshot(begin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if begin {
			a.server.BeginSnapshot()
		} else {
			a.server.EndSnapshot()
		}
		c.JSON(http.StatusOK, gin.H{"resize_policy": a.server.ResizePolicy().String()})
	}
}

func (a *API) keys(c *gin.Context) {
	var keys []string
	if a.exec(c, func(db *storage.RedisDb) error {
		keys = db.Keys(c.DefaultQuery("pattern", "*"))
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"keys": keys})
	}
}

func (a *API) scan(c *gin.Context) {
	var (
		next uint64
		keys []string
	)
	if a.exec(c, func(db *storage.RedisDb) error {
		cursor, err := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 64)
		if err != nil {
			return badRequest("invalid cursor")
		}
		count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
		if err != nil || count <= 0 {
			return badRequest("invalid count")
		}
		next, keys = db.Scan(cursor, c.Query("match"), count)
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"cursor": strconv.FormatUint(next, 10), "keys": keys})
	}
}

func (a *API) randomKey(c *gin.Context) {
	var key string
	if a.exec(c, func(db *storage.RedisDb) error {
		k, ok := db.RandomKey()
		if !ok {
			return storage.ErrKeyNotFound
		}
		key = k
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"key": key})
	}
}

func (a *API) htstats(c *gin.Context) {
	var stats string
	if a.exec(c, func(db *storage.RedisDb) error {
		stats = db.HTStats()
		return nil
	}) {
		c.String(http.StatusOK, stats)
	}
}

func (a *API) flush(c *gin.Context) {
	if a.exec(c, func(db *storage.RedisDb) error {
		db.FlushDB()
		return nil
	}) {
		c.Status(http.StatusNoContent)
	}
}

func (a *API) describe(c *gin.Context) {
	key := c.Param("key")
	var out gin.H
	if a.exec(c, func(db *storage.RedisDb) error {
		obj, err := db.Get(key)
		if err != nil {
			return err
		}
		out = gin.H{
			"key":      key,
			"type":     obj.TypeString(),
			"encoding": obj.EncodingString(),
			"ttl":      db.TTL(key),
			"len":      obj.Len(),
		}
		switch obj.Type {
		case storage.OBJ_STRING:
			v, _ := obj.GetStringValue()
			out["value"] = string(v)
		case storage.OBJ_LIST:
			l, _ := obj.GetList()
			out["value"] = toStrings(l.Values())
		case storage.OBJ_SET:
			s, _ := obj.GetSet()
			out["value"] = toStrings(s.Members())
		case storage.OBJ_HASH:
			h, _ := obj.GetHash()
			fields := make(map[string]string, h.Len())
			for _, e := range h.GetAll() {
				fields[string(e.Field())] = string(e.Value())
			}
			out["value"] = fields
		}
		return nil
	}) {
		c.JSON(http.StatusOK, out)
	}
}

func (a *API) del(c *gin.Context) {
	var deleted bool
	if a.exec(c, func(db *storage.RedisDb) error {
		deleted = db.Del(c.Param("key"))
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

type expireRequest struct {
	Seconds int64 `json:"seconds"`
}

func (a *API) expire(c *gin.Context) {
	var req expireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var ok bool
	if a.exec(c, func(db *storage.RedisDb) error {
		ok = db.Expire(c.Param("key"), req.Seconds)
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"updated": ok})
	}
}

func (a *API) persist(c *gin.Context) {
	var ok bool
	if a.exec(c, func(db *storage.RedisDb) error {
		ok = db.Persist(c.Param("key"))
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"updated": ok})
	}
}

type setStringRequest struct {
	Value string `json:"value"`
}

func (a *API) setString(c *gin.Context) {
	var req setStringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var encoding string
	if a.exec(c, func(db *storage.RedisDb) error {
		obj := storage.NewStringObject([]byte(req.Value))
		db.Set(c.Param("key"), obj)
		encoding = obj.EncodingString()
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"encoding": encoding})
	}
}

type listPushRequest struct {
	Values []string `json:"values" binding:"required"`
	Where  string   `json:"where"`
}

func (a *API) listPush(c *gin.Context) {
	var req listPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var length int
	if a.exec(c, func(db *storage.RedisDb) error {
		where, err := parseWhere(req.Where)
		if err != nil {
			return err
		}
		obj, err := db.GetOrCreate(c.Param("key"), storage.OBJ_LIST)
		if err != nil {
			return err
		}
		list, _ := obj.GetList()
		for _, v := range req.Values {
			if err := list.Push([]byte(v), where); err != nil {
				return err
			}
		}
		length = list.Len()
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"len": length})
	}
}

func (a *API) listPop(c *gin.Context) {
	var value []byte
	if a.exec(c, func(db *storage.RedisDb) error {
		where, err := parseWhere(c.Query("where"))
		if err != nil {
			return err
		}
		key := c.Param("key")
		obj, err := db.Get(key)
		if err != nil {
			return err
		}
		list, err := obj.GetList()
		if err != nil {
			return err
		}
		value, err = list.Pop(where)
		if err != nil {
			return errors.Wrap(storage.ErrKeyNotFound, err.Error())
		}
		db.DeleteIfEmpty(key)
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"value": string(value)})
	}
}

func (a *API) listRange(c *gin.Context) {
	var values []string
	if a.exec(c, func(db *storage.RedisDb) error {
		start, err1 := strconv.Atoi(c.DefaultQuery("start", "0"))
		stop, err2 := strconv.Atoi(c.DefaultQuery("stop", "-1"))
		if err1 != nil || err2 != nil {
			return badRequest("start and stop must be integers")
		}
		obj, err := db.Get(c.Param("key"))
		if err != nil {
			return err
		}
		list, err := obj.GetList()
		if err != nil {
			return err
		}
		values = toStrings(list.Range(start, stop))
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"values": values})
	}
}

type setAddRequest struct {
	Members []string `json:"members" binding:"required"`
}

func (a *API) setAdd(c *gin.Context) {
	var req setAddRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	added := 0
	var encoding string
	if a.exec(c, func(db *storage.RedisDb) error {
		obj, err := db.GetOrCreate(c.Param("key"), storage.OBJ_SET)
		if err != nil {
			return err
		}
		set, _ := obj.GetSet()
		for _, m := range req.Members {
			if set.Add([]byte(m)) {
				added++
			}
		}
		encoding = obj.EncodingString()
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"added": added, "encoding": encoding})
	}
}

func (a *API) setRemove(c *gin.Context) {
	var removed bool
	if a.exec(c, func(db *storage.RedisDb) error {
		key := c.Param("key")
		obj, err := db.Get(key)
		if err != nil {
			return err
		}
		set, err := obj.GetSet()
		if err != nil {
			return err
		}
		removed = set.Remove([]byte(c.Param("member")))
		db.DeleteIfEmpty(key)
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

type hashSetRequest struct {
	Fields map[string]string `json:"fields" binding:"required"`
}

func (a *API) hashSet(c *gin.Context) {
	var req hashSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created := 0
	var encoding string
	if a.exec(c, func(db *storage.RedisDb) error {
		obj, err := db.GetOrCreate(c.Param("key"), storage.OBJ_HASH)
		if err != nil {
			return err
		}
		hash, _ := obj.GetHash()
		for f, v := range req.Fields {
			isNew, err := hash.Set([]byte(f), []byte(v))
			if err != nil {
				return err
			}
			if isNew {
				created++
			}
		}
		encoding = obj.EncodingString()
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"created": created, "encoding": encoding})
	}
}

func (a *API) hashGet(c *gin.Context) {
	var value []byte
	if a.exec(c, func(db *storage.RedisDb) error {
		obj, err := db.Get(c.Param("key"))
		if err != nil {
			return err
		}
		hash, err := obj.GetHash()
		if err != nil {
			return err
		}
		v, ok := hash.Get([]byte(c.Param("field")))
		if !ok {
			return errors.Wrap(storage.ErrKeyNotFound, "field not found")
		}
		value = v
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"value": string(value)})
	}
}

func (a *API) hashDel(c *gin.Context) {
	var deleted bool
	if a.exec(c, func(db *storage.RedisDb) error {
		key := c.Param("key")
		obj, err := db.Get(key)
		if err != nil {
			return err
		}
		hash, err := obj.GetHash()
		if err != nil {
			return err
		}
		deleted = hash.Del([]byte(c.Param("field")))
		db.DeleteIfEmpty(key)
		return nil
	}) {
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}
