package broadcast

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/tinytelemetry/beacon/internal/aggregate"
	"github.com/tinytelemetry/beacon/internal/model"
)

// Topics carried in the "topic" field of every message.
const (
	TopicCPU      = "cpu"
	TopicMemory   = "memory"
	TopicHTTP     = "http"
	TopicHTTPURLs = "httpURLs"
	TopicEnv      = "env"
	TopicTitle    = "title"
)

// Message is the envelope written to subscribers.
type Message struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// The dashboard client reads scalar payload fields as strings.

type cpuPayload struct {
	Time        string `json:"time"`
	Process     string `json:"process"`
	System      string `json:"system"`
	ProcessMean string `json:"processMean"`
	SystemMean  string `json:"systemMean"`
}

type memoryPayload struct {
	Time         string `json:"time"`
	Physical     string `json:"physical"`
	PhysicalUsed string `json:"physical_used"`
	ProcessMean  string `json:"processMean"`
	SystemMean   string `json:"systemMean"`
}

type httpPayload struct {
	Time    string `json:"time"`
	URL     string `json:"url"`
	Longest string `json:"longest"`
	Average string `json:"average"`
	Total   string `json:"total"`
}

type urlPayload struct {
	URL                 string  `json:"url"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	Hits                uint64  `json:"hits"`
	LongestResponseTime float64 `json:"longestResponseTime"`
}

// TitlePayload is the body of the title topic.
type TitlePayload struct {
	Title string `json:"title"`
	Docs  string `json:"docs"`
}

func millis(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// Messages converts one interval into topic messages, one per category that
// saw activity, in the order cpu, memory, http, httpURLs.
func Messages(r aggregate.RollingSnapshot) []Message {
	var out []Message
	if c := r.CPU; c != nil {
		out = append(out, Message{Topic: TopicCPU, Payload: cpuPayload{
			Time:        millis(c.Time),
			Process:     ftoa(c.Process),
			System:      ftoa(c.System),
			ProcessMean: ftoa(c.ProcessMean),
			SystemMean:  ftoa(c.SystemMean),
		}})
	}
	if m := r.Memory; m != nil {
		out = append(out, Message{Topic: TopicMemory, Payload: memoryPayload{
			Time:         millis(m.Time),
			Physical:     strconv.FormatUint(m.ProcessBytes, 10),
			PhysicalUsed: strconv.FormatUint(m.SystemBytes, 10),
			ProcessMean:  ftoa(m.ProcessMean),
			SystemMean:   ftoa(m.SystemMean),
		}})
	}
	if h := r.HTTP; h != nil {
		out = append(out, Message{Topic: TopicHTTP, Payload: httpPayload{
			Time:    millis(h.FirstRequest),
			URL:     h.LongestURL,
			Longest: ftoa(h.LongestMillis),
			Average: ftoa(h.AverageMillis),
			Total:   strconv.FormatUint(h.Total, 10),
		}})
	}
	if len(r.URLs) > 0 {
		urls := make([]urlPayload, len(r.URLs))
		for i, u := range r.URLs {
			urls[i] = urlPayload{
				URL:                 u.URL,
				AverageResponseTime: u.AverageMillis,
				Hits:                u.Hits,
				LongestResponseTime: u.LongestMillis,
			}
		}
		out = append(out, Message{Topic: TopicHTTPURLs, Payload: urls})
	}
	return out
}

// EnvMessage builds the one-shot environment message.
func EnvMessage(env []model.EnvEntry) Message {
	if env == nil {
		env = []model.EnvEntry{}
	}
	return Message{Topic: TopicEnv, Payload: env}
}

// TitleMessage builds the one-shot title message.
func TitleMessage(title, docs string) Message {
	return Message{Topic: TopicTitle, Payload: TitlePayload{Title: title, Docs: docs}}
}

// Encode marshals msg for the wire.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
