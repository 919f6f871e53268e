package gmail

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"sigbridge/config"
	"sigbridge/signal"
	"sigbridge/trader"
)

// Handler 信号处理入口，监听器解析出信号后交给它
type Handler interface {
	Handle(ctx context.Context, sig *signal.Signal) *trader.Result
}

// Monitor IMAP 邮件监听器
// 两种模式：定时轮询（每轮独立连接，简单可靠）和 IDLE 长连接（近实时）
// 只看指定标签下的未读邮件，处理过的一律标记已读，解析不出的抄送到失败标签
type Monitor struct {
	cfg     *config.ImapConfig
	handler Handler
	db      *config.Database // 可为 nil

	// 测试注入用
	now func() time.Time
}

// NewMonitor 创建监听器
func NewMonitor(cfg *config.ImapConfig, handler Handler, db *config.Database) *Monitor {
	return &Monitor{
		cfg:     cfg,
		handler: handler,
		db:      db,
		now:     time.Now,
	}
}

// Run 阻塞式主循环，ctx 取消后返回
// 连接失败按配置的退避序列重试，超出序列后固定用最后一档
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		log.Println("📭 邮件监听未启用（缺 IMAP_USER/IMAP_PASSWORD）")
		return
	}

	mode := "轮询"
	if m.cfg.UseIdle {
		mode = "IDLE"
	}
	log.Printf("📧 启动邮件监听: %s 标签=%s 模式=%s", m.cfg.User, m.cfg.Label, mode)

	attempt := 0
	for {
		err := m.session(ctx)
		if ctx.Err() != nil {
			log.Println("📭 邮件监听已停止")
			return
		}
		if err != nil {
			delay := m.backoff(attempt)
			attempt++
			log.Printf("⚠️ 邮件会话异常: %v，%s 后重连（第%d次）", err, delay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			continue
		}

		// 会话正常结束（轮询模式一轮完成），重置退避
		attempt = 0
		if !m.cfg.UseIdle {
			select {
			case <-time.After(m.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// backoff 第 attempt 次重连的等待时长，封顶在序列最后一档
func (m *Monitor) backoff(attempt int) time.Duration {
	steps := m.cfg.ReconnectBackoffs
	if len(steps) == 0 {
		return 5 * time.Second
	}
	if attempt >= len(steps) {
		return steps[len(steps)-1]
	}
	return steps[attempt]
}

// session 一次完整的IMAP会话
// 轮询模式：处理一轮未读就退出；IDLE 模式：长驻直到连接出错或 ctx 取消
func (m *Monitor) session(ctx context.Context) error {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port), nil)
	if err != nil {
		return fmt.Errorf("连接IMAP失败: %w", err)
	}
	defer c.Logout()

	if err := c.Login(m.cfg.User, m.cfg.Password); err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	if _, err := c.Select(m.cfg.Label, false); err != nil {
		return fmt.Errorf("选择标签 %s 失败: %w", m.cfg.Label, err)
	}

	// 无论哪种模式，先清一遍积压
	if err := m.processUnseen(ctx, c); err != nil {
		return err
	}

	if !m.cfg.UseIdle {
		return nil
	}
	return m.idleLoop(ctx, c)
}

// idleLoop IDLE 长连接：服务器推送到达时中断 IDLE、拉取新邮件、再进 IDLE
// LogoutTimeout 控制续租周期，赶在服务器 30 分钟超时前重发 IDLE
func (m *Monitor) idleLoop(ctx context.Context, c *client.Client) error {
	updates := make(chan client.Update, 8)
	c.Updates = updates

	for {
		stop := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- c.Idle(stop, &client.IdleOptions{LogoutTimeout: m.cfg.IdleRenew})
		}()

		select {
		case <-ctx.Done():
			close(stop)
			<-done
			return nil

		case update := <-updates:
			// 处理命令前必须先退出 IDLE 状态
			close(stop)
			if err := <-done; err != nil {
				return err
			}
			if _, ok := update.(*client.MailboxUpdate); ok {
				if err := m.processUnseen(ctx, c); err != nil {
					return err
				}
			}

		case err := <-done:
			if err != nil {
				return err
			}
			// IDLE 自然到期，补一轮拉取防止推送丢失
			if err := m.processUnseen(ctx, c); err != nil {
				return err
			}
		}
	}
}

// processUnseen 拉取并处理标签下所有未读邮件
func (m *Monitor) processUnseen(ctx context.Context, c *client.Client) error {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return fmt.Errorf("搜索未读邮件失败: %w", err)
	}
	if len(uids) == 0 {
		return nil
	}
	log.Printf("📧 发现 %d 封未读邮件", len(uids))

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	// Peek 取正文，避免 fetch 本身把邮件标成已读
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid}

	messages := make(chan *imap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqset, items, messages)
	}()

	var processed, unparseable []uint32
	for msg := range messages {
		ok := m.handleMessage(ctx, msg, section)
		processed = append(processed, msg.Uid)
		if !ok {
			unparseable = append(unparseable, msg.Uid)
		}
	}
	if err := <-fetchDone; err != nil {
		return fmt.Errorf("拉取邮件失败: %w", err)
	}

	// 全部标记已读：处理结果不管是什么，这封邮件都不会再看第二遍
	if len(processed) > 0 {
		set := new(imap.SeqSet)
		set.AddNum(processed...)
		op := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(set, op, []interface{}{imap.SeenFlag}, nil); err != nil {
			return fmt.Errorf("标记已读失败: %w", err)
		}
	}

	// 解析不出的抄送到失败标签，方便人工排查；标签不存在只告警
	if len(unparseable) > 0 && m.cfg.FailedLabel != "" {
		set := new(imap.SeqSet)
		set.AddNum(unparseable...)
		if err := c.UidCopy(set, m.cfg.FailedLabel); err != nil {
			log.Printf("⚠️ 复制到失败标签 %s 失败: %v", m.cfg.FailedLabel, err)
		}
	}

	return nil
}

// handleMessage 处理单封邮件，返回是否成功解析出告警
// 解析失败返回 false（调用方会抄送失败标签）；业务拒绝（过期、重复等）不算解析失败
func (m *Monitor) handleMessage(ctx context.Context, msg *imap.Message, section *imap.BodySectionName) bool {
	r := msg.GetBody(section)
	if r == nil {
		log.Printf("⚠️ 邮件 UID=%d 没有正文", msg.Uid)
		return false
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		log.Printf("⚠️ 读取邮件 UID=%d 失败: %v", msg.Uid, err)
		return false
	}

	identity := m.messageIdentity(msg, raw)

	// 先看信头时间：太旧的邮件直接记档跳过，不进执行引擎
	if age := m.now().Sub(msg.InternalDate); age > m.cfg.MaxMessageAge {
		log.Printf("⏳ 邮件 %s 已过期（%s前），跳过", identity, age.Round(time.Second))
		m.markStale(identity)
		return true
	}

	subject, body := m.extractText(raw, msg)

	rawJSON, found := signal.ExtractJSON(body)
	if !found {
		// 有些告警模板把 JSON 放在主题里
		rawJSON, found = signal.ExtractJSON(subject)
	}
	if !found {
		log.Printf("⚠️ 邮件 %s 正文未找到告警JSON", identity)
		return false
	}

	payload, err := signal.ParsePayload([]byte(rawJSON))
	if err != nil {
		log.Printf("⚠️ 邮件 %s 告警JSON解析失败: %v", identity, err)
		return false
	}

	sig := signal.FromPayload(payload, signal.OriginEmail, identity, m.now())
	res := m.handler.Handle(ctx, sig)
	log.Printf("📨 邮件信号处理完成: %s %s %s → %s",
		identity, sig.SymbolRaw, sig.Side, res.Status)
	return true
}

// messageIdentity 邮件的稳定标识
// 优先 Message-ID，缺失时退回原文 md5，再退回 uid
func (m *Monitor) messageIdentity(msg *imap.Message, raw []byte) string {
	if msg.Envelope != nil && msg.Envelope.MessageId != "" {
		return msg.Envelope.MessageId
	}
	if len(raw) > 0 {
		sum := md5.Sum(raw)
		return hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("uid-%d", msg.Uid)
}

// markStale 过期邮件落档，重启后也不会再碰它
func (m *Monitor) markStale(identity string) {
	if m.db == nil {
		return
	}
	if err := m.db.MarkEmailProcessed(identity, "", "", "", string(signal.OutcomeStale)); err != nil {
		log.Printf("⚠️ 记录过期邮件失败: %v", err)
	}
}

// extractText 解析MIME结构，取主题和正文文本
// 正文优先 text/plain，只有纯文本缺失时才用 HTML 凑数
func (m *Monitor) extractText(raw []byte, msg *imap.Message) (subject, body string) {
	if msg.Envelope != nil {
		subject = msg.Envelope.Subject
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		log.Printf("⚠️ 解析邮件结构失败: %v", err)
		// MIME 解析不动就拿原文硬找
		return subject, string(raw)
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("⚠️ 读取邮件分段失败: %v", err)
			break
		}
		if _, ok := p.Header.(*mail.InlineHeader); !ok {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}
		contentType := p.Header.Get("Content-Type")
		switch {
		case strings.Contains(contentType, "text/plain"):
			plain = string(b)
		case strings.Contains(contentType, "text/html") && html == "":
			html = string(b)
		}
	}

	if plain != "" {
		return subject, plain
	}
	return subject, html
}
