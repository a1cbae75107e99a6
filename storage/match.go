package storage

// matchPattern KEYS/SCAN 使用的 glob 匹配：支持 * ? [abc] [^a-z] 和 \ 转义。
// 与 path.Match 不同，'/' 没有特殊含义
func matchPattern(pattern, key string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchPattern(pattern[1:], key[i:]) {
					return true
				}
			}
			return false

		case '?':
			if len(key) == 0 {
				return false
			}
			key = key[1:]
			pattern = pattern[1:]

		case '[':
			if len(key) == 0 {
				return false
			}
			pattern = pattern[1:]
			not := len(pattern) > 0 && pattern[0] == '^'
			if not {
				pattern = pattern[1:]
			}
			matched := false
			for len(pattern) > 0 && pattern[0] != ']' {
				switch {
				case pattern[0] == '\\' && len(pattern) >= 2:
					pattern = pattern[1:]
					if pattern[0] == key[0] {
						matched = true
					}
				case len(pattern) >= 3 && pattern[1] == '-':
					lo, hi := pattern[0], pattern[2]
					if lo > hi {
						lo, hi = hi, lo
					}
					if key[0] >= lo && key[0] <= hi {
						matched = true
					}
					pattern = pattern[2:]
				default:
					if pattern[0] == key[0] {
						matched = true
					}
				}
				pattern = pattern[1:]
			}
			if len(pattern) > 0 {
				// 跳过 ']'
				pattern = pattern[1:]
			}
			if matched == not {
				return false
			}
			key = key[1:]

		case '\\':
			if len(pattern) >= 2 {
				pattern = pattern[1:]
			}
			fallthrough

		default:
			if len(key) == 0 || pattern[0] != key[0] {
				return false
			}
			key = key[1:]
			pattern = pattern[1:]
		}
	}
	return len(key) == 0
}
