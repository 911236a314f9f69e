// pkg/binance/stream.go
package binance

import "strings"

// DeriveStream выводит имя стрима из распарсенного кадра.
// Правила применяются по порядку:
//  1. depth-снапшот (lastUpdateId + bids): символ из поля "s" либо из активной
//     подписки вида "{symbol}@depth...";
//  2. поле "e": trade | 24hrTicker | depthUpdate | kline;
//  3. combined-stream конверт {"stream":...,"data":{...}} — имя берётся как есть,
//     payload-ом становится вложенный объект;
//  4. иначе кадр не классифицируется (ok == false) и отбрасывается вызывающим.
//
// Возвращает имя стрима, payload для envelope и признак успеха.
func DeriveStream(data map[string]any, subscriptions []string) (string, map[string]any, bool) {
	// 1) depth-снапшот без поля "e"
	if _, hasUpdate := data["lastUpdateId"]; hasUpdate {
		if _, hasBids := data["bids"]; hasBids {
			if sym := symbolOf(data); sym != "" {
				return sym + "@depth20@100ms", data, true
			}
			if sym := depthSymbolFromSubscriptions(subscriptions); sym != "" {
				return sym + "@depth20@100ms", data, true
			}
			return "", nil, false
		}
	}

	// 2) классификация по полю "e"
	if evt, _ := data["e"].(string); evt != "" {
		if sym := symbolOf(data); sym != "" {
			switch evt {
			case "trade":
				return sym + "@trade", data, true
			case "24hrTicker":
				return sym + "@ticker", data, true
			case "depthUpdate":
				return sym + "@depth20@100ms", data, true
			case "kline":
				if k, ok := data["k"].(map[string]any); ok {
					if interval, ok := k["i"].(string); ok && interval != "" {
						return sym + "@kline_" + interval, data, true
					}
				}
			}
		}
	}

	// 3) combined-stream конверт
	if stream, inner, ok := combinedEnvelope(data); ok {
		return stream, inner, true
	}

	// 4) не классифицируется
	return "", nil, false
}

// symbolOf возвращает символ из поля "s" в нижнем регистре.
func symbolOf(data map[string]any) string {
	if s, ok := data["s"].(string); ok && s != "" {
		return strings.ToLower(s)
	}
	return ""
}

// depthSymbolFromSubscriptions восстанавливает символ depth-снапшота
// по активной подписке вида "{symbol}@depth...".
func depthSymbolFromSubscriptions(subs []string) string {
	for _, s := range subs {
		if i := strings.Index(s, "@"); i > 0 && strings.HasPrefix(s[i:], "@depth") {
			return s[:i]
		}
	}
	return ""
}

// combinedEnvelope распознаёт конверт combined-режима {"stream":...,"data":{...}}.
func combinedEnvelope(data map[string]any) (string, map[string]any, bool) {
	stream, ok := data["stream"].(string)
	if !ok || stream == "" {
		return "", nil, false
	}
	inner, ok := data["data"].(map[string]any)
	if !ok {
		return "", nil, false
	}
	return stream, inner, true
}
