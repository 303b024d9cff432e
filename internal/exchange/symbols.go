package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NormalizeSymbol 将 "eth/usdt" 之类的输入统一为交易所原生格式 "ETHUSDT"。
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, "/", "")
}

// UnifiedSymbol 将 ETHUSDT 转换为 ccxt 永续合约符号 ETH/USDT:USDT。
// 已是 ccxt 格式或无法识别计价币种时原样返回。
func UnifiedSymbol(symbol string, quotes []string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(s, "/") {
		return s
	}
	for _, quote := range quotes {
		quote = strings.ToUpper(strings.TrimSpace(quote))
		if quote == "" || len(s) <= len(quote) || !strings.HasSuffix(s, quote) {
			continue
		}
		base := strings.TrimSuffix(s, quote)
		return fmt.Sprintf("%s/%s:%s", base, quote, quote)
	}
	return s
}

// lotFromMarket 解析 ccxt 市场结构中的数量规则，优先使用原始 LOT_SIZE 过滤器。
func lotFromMarket(market interface{}) (LotConstraints, error) {
	m, ok := market.(map[string]interface{})
	if !ok {
		return LotConstraints{}, errors.New("市场元数据格式无法识别")
	}

	var lot LotConstraints
	if info, ok := m["info"].(map[string]interface{}); ok {
		if filters, ok := info["filters"].([]interface{}); ok {
			for _, f := range filters {
				filter, ok := f.(map[string]interface{})
				if !ok || filter["filterType"] != "LOT_SIZE" {
					continue
				}
				lot.Step = parseNumeric(filter["stepSize"])
				lot.MinQty = parseNumeric(filter["minQty"])
			}
		}
	}

	if lot.Step <= 0 {
		if precision, ok := m["precision"].(map[string]interface{}); ok {
			lot.Step = parseNumeric(precision["amount"])
		}
	}
	if lot.MinQty <= 0 {
		if limits, ok := m["limits"].(map[string]interface{}); ok {
			if amount, ok := limits["amount"].(map[string]interface{}); ok {
				lot.MinQty = parseNumeric(amount["min"])
			}
		}
	}

	if lot.Step <= 0 {
		return LotConstraints{}, errors.New("缺少数量步长 stepSize")
	}
	if lot.MinQty <= 0 {
		lot.MinQty = lot.Step
	}
	return lot, nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
