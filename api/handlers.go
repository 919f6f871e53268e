package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sigbridge/analysis"
	"sigbridge/market"
	"sigbridge/signal"
)

// handleWebhook TradingView 告警入口
// 请求体就是告警JSON；来源标识取报文哈希，字节级重发会得到同一个标识
func (s *Server) handleWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"status": signal.OutcomeMalformed, "error": "空请求体"})
		return
	}

	payload, err := signal.ParsePayload(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": signal.OutcomeMalformed, "error": err.Error()})
		return
	}

	sum := sha256.Sum256(raw)
	sig := signal.FromPayload(payload, signal.OriginWebhook, hex.EncodeToString(sum[:]), time.Now())

	res := s.engine.Handle(c.Request.Context(), sig)
	c.JSON(httpStatusFor(res.Status), res)
}

// httpStatusFor 结果码映射HTTP状态
// 重复、冷却、同向持仓都算处理成功：告警源没发错什么，只是我们选择不动
func httpStatusFor(outcome signal.Outcome) int {
	switch outcome {
	case signal.OutcomeUnauthorized:
		return http.StatusForbidden
	case signal.OutcomeStale, signal.OutcomeMalformed, signal.OutcomeInvalidQuantity:
		return http.StatusBadRequest
	case signal.OutcomeExchangeError:
		return http.StatusBadGateway
	default:
		return http.StatusOK
	}
}

// handleHealth 健康检查
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":         "ok",
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
		"exchange":       s.engine.Exchange().Name(),
		"dry_run":        s.cfg.DryRun,
		"secret_loaded":  s.cfg.WebhookSecret != "",
		"open_positions": s.store.OpenCount(),
		"email_enabled":  s.cfg.Imap.Enabled,
		"dedup_memory":   s.engine.Gate().Count(),
	}
	if s.db != nil {
		if emails, signals, err := s.db.DedupCounts(); err == nil {
			resp["dedup_emails"] = emails
			resp["dedup_signals"] = signals
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handlePositions 全量持仓快照
func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.store.Snapshot()})
}

// handleDedup 去重统计
func (s *Server) handleDedup(c *gin.Context) {
	resp := gin.H{"memory_keys": s.engine.Gate().Count()}
	if s.db != nil {
		emails, signals, err := s.db.DedupCounts()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp["processed_emails"] = emails
		resp["processed_signals"] = signals
	}
	c.JSON(http.StatusOK, resp)
}

// handleReport 运行报告（markdown）
func (s *Server) handleReport(c *gin.Context) {
	report, err := analysis.Generate(s.db, s.store)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report, "generated_at": time.Now().UTC().Format(time.RFC3339)})
}

// handleDebug 单个交易对的调试视图：映射结果 + 当前持仓 + 实时参考价
func (s *Server) handleDebug(c *gin.Context) {
	symbolTV := c.Param("symbol_tv")

	inst, err := market.Normalize(symbolTV)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"symbol_tv":      symbolTV,
		"canonical":      inst.Canonical,
		"bitget_symbol":  inst.BitgetSymbol,
		"binance_symbol": inst.BinanceSymbol,
		"contract_size":  inst.ContractSize,
		"position":       s.store.Get(inst.Canonical),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if price, err := s.engine.Exchange().Price(ctx, inst); err == nil {
		resp["price"] = price
		if contracts, err := market.ContractsFor(inst, s.cfg.PositionUSDT, price); err == nil {
			resp["contracts_at_price"] = contracts
		} else {
			resp["contracts_at_price"] = 0
		}
	} else {
		resp["price_error"] = err.Error()
	}

	c.JSON(http.StatusOK, resp)
}
