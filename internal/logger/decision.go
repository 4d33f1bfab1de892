package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 中文说明：
// 决策审计日志（独立于主日志），按回合记录发给每个 agent 的上下文
// 与拿到的原始应答，便于事后排查模型输出问题。

var (
	decisionMu  sync.Mutex
	decisionLog *log.Logger
	dumpContext bool
)

func SetDecisionWriter(w io.Writer) {
	decisionMu.Lock()
	defer decisionMu.Unlock()
	if w == nil {
		decisionLog = nil
		return
	}
	decisionLog = log.New(w, "", log.LstdFlags)
}

func EnableContextDump(enabled bool) {
	decisionMu.Lock()
	dumpContext = enabled
	decisionMu.Unlock()
}

type decisionSection struct {
	Title string
	Body  string
}

func logDecision(kind, agent, run string, sections []decisionSection) {
	decisionMu.Lock()
	l := decisionLog
	decisionMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[DECISION]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if agent != "" {
		b.WriteString("[")
		b.WriteString(agent)
		b.WriteString("]")
	}
	if run != "" {
		b.WriteString("[")
		b.WriteString(run)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

// LogDecisionRequest 记录一次决策请求；context 仅在开启 dump 时写入。
func LogDecisionRequest(agent, run, context string) {
	decisionMu.Lock()
	dump := dumpContext
	decisionMu.Unlock()
	var sections []decisionSection
	if dump && strings.TrimSpace(context) != "" {
		sections = append(sections, decisionSection{Title: "CONTEXT", Body: context})
	}
	logDecision("request", agent, run, sections)
}

func LogDecisionResponse(agent, run, raw string) {
	logDecision("response", agent, run, []decisionSection{{Title: "RAW", Body: raw}})
}

func LogDecisionFault(agent, run, reason string) {
	logDecision("fault", agent, run, []decisionSection{{Title: "REASON", Body: reason}})
}
