package structure

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	// GETFAIR_NUM_ENTRIES GetFairRandomKey 的采样数量
	GETFAIR_NUM_ENTRIES = 15

	DICT_STATS_VECTLEN = 50
)

// GetRandomKey 随机返回一个节点。桶长度不同，所以分布并不均匀
func (d *Dict[K, V]) GetRandomKey() *DictEntry[K, V] {
	if d.Size() == 0 {
		return nil
	}
	if d.IsRehashing() {
		d.rehashStep()
	}

	var bucket []*DictEntry[K, V]
	if m := d.migration; m != nil {
		s0 := d.main.size()
		slots := s0 + m.target.size()
		// 旧表游标之前的桶一定为空
		for len(bucket) == 0 {
			h := m.cursor + rand.Uint64N(slots-m.cursor)
			if h >= s0 {
				bucket = m.target.buckets[h-s0]
			} else {
				bucket = d.main.buckets[h]
			}
		}
	} else {
		mask := d.main.mask()
		for len(bucket) == 0 {
			bucket = d.main.buckets[rand.Uint64()&mask]
		}
	}
	return bucket[rand.IntN(len(bucket))]
}

// GetSomeKeys 从随机位置开始连续采样，最多返回 count 个节点。
// 不保证不重复，也不保证一定返回 count 个
func (d *Dict[K, V]) GetSomeKeys(count int) []*DictEntry[K, V] {
	if size := d.Size(); uint64(count) > size {
		count = int(size)
	}
	if count <= 0 {
		return nil
	}
	maxsteps := count * 10

	// 按采样数量顺带做一些迁移
	for j := 0; j < count; j++ {
		if !d.IsRehashing() {
			break
		}
		d.rehashStep()
	}

	tables := d.tables()
	maxmask := d.main.mask()
	if len(tables) > 1 && tables[1].mask() > maxmask {
		maxmask = tables[1].mask()
	}

	out := make([]*DictEntry[K, V], 0, count)
	i := rand.Uint64() & maxmask
	emptylen := 0
	for ; len(out) < count && maxsteps > 0; maxsteps-- {
		for j, t := range tables {
			// 迁移期间旧表游标之前的桶为空，跳过
			if len(tables) == 2 && j == 0 && i < d.migration.cursor {
				if i >= tables[1].size() {
					i = d.migration.cursor
				} else {
					continue
				}
			}
			if i >= t.size() {
				continue
			}
			bucket := t.buckets[i]
			if len(bucket) == 0 {
				emptylen++
				if emptylen >= 5 && emptylen > count {
					i = rand.Uint64() & maxmask
					emptylen = 0
				}
				continue
			}
			emptylen = 0
			for _, e := range bucket {
				out = append(out, e)
				if len(out) == count {
					return out
				}
			}
		}
		i = (i + 1) & maxmask
	}
	return out
}

// GetFairRandomKey 先采样一组节点再从中随机，分布比 GetRandomKey 更均匀
func (d *Dict[K, V]) GetFairRandomKey() *DictEntry[K, V] {
	entries := d.GetSomeKeys(GETFAIR_NUM_ENTRIES)
	if len(entries) == 0 {
		return d.GetRandomKey()
	}
	return entries[rand.IntN(len(entries))]
}

// Stats 链长分布统计，格式与 DEBUG HTSTATS 一致
func (d *Dict[K, V]) Stats() string {
	var sb strings.Builder
	if d.main == nil {
		sb.WriteString("No stats available for empty dictionaries\n")
		return sb.String()
	}
	writeTableStats(&sb, d.main, 0)
	if d.migration != nil {
		writeTableStats(&sb, d.migration.target, 1)
	}
	return sb.String()
}

func writeTableStats[K comparable, V any](sb *strings.Builder, t *dictTable[K, V], id int) {
	name := "main hash table"
	if id == 1 {
		name = "rehashing target"
	}
	if t.used == 0 {
		fmt.Fprintf(sb, "Hash table %d stats (%s):\nNo stats available for empty dictionaries\n", id, name)
		return
	}

	var clvector [DICT_STATS_VECTLEN]uint64
	slots, maxchainlen, totchainlen := 0, 0, 0
	for _, bucket := range t.buckets {
		if len(bucket) == 0 {
			clvector[0]++
			continue
		}
		slots++
		chainlen := len(bucket)
		clvector[min(chainlen, DICT_STATS_VECTLEN-1)]++
		maxchainlen = max(maxchainlen, chainlen)
		totchainlen += chainlen
	}

	fmt.Fprintf(sb, "Hash table %d stats (%s):\n"+
		" table size: %d\n"+
		" number of elements: %d\n"+
		" different slots: %d\n"+
		" max chain length: %d\n"+
		" avg chain length (counted): %.02f\n"+
		" avg chain length (computed): %.02f\n"+
		" Chain length distribution:\n",
		id, name, t.size(), t.used, slots, maxchainlen,
		float64(totchainlen)/float64(slots), float64(t.used)/float64(slots))

	for i, n := range clvector {
		if n == 0 {
			continue
		}
		fmt.Fprintf(sb, "   %d: %d (%.02f%%)\n", i, n, float64(n)/float64(t.size())*100)
	}
}
