// Package id 生成按时间排序的唯一标识，用于请求追踪与交易所 client order id。
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New 返回 26 位 ULID 字符串，同一毫秒内单调递增。
func New() string {
	mu.Lock()
	defer mu.Unlock()

	value, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return value.String()
}

// ClientOrderID 返回带前缀的下单标识，Binance 限制最长 36 个字符。
func ClientOrderID(prefix string) string {
	const maxLen = 36
	value := prefix + New()
	if len(value) > maxLen {
		value = value[len(value)-maxLen:]
	}
	return value
}
