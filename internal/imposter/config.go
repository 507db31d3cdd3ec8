package imposter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/internal/stub"
)

// ProtocolMQ is the only protocol an imposter can speak
const ProtocolMQ = "mq"

// Config describes one imposter
type Config struct {
	Port     int           `yaml:"port" json:"port"`
	Protocol string        `yaml:"protocol" json:"protocol"`
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
	MQ       MQSettings    `yaml:"mq" json:"mq"`
	Queues   []QueueConfig `yaml:"queues" json:"queues"`
	Stubs    interface{}   `yaml:"stubs,omitempty" json:"stubs,omitempty"`
}

// MQSettings is the queue manager identity an imposter presents
type MQSettings struct {
	QueueManager string `yaml:"queueManager" json:"queueManager"`
	Channel      string `yaml:"channel,omitempty" json:"channel,omitempty"`
	Host         string `yaml:"host,omitempty" json:"host,omitempty"`
	Port         int    `yaml:"port,omitempty" json:"port,omitempty"`
}

// QueueConfig declares a queue of the imposter
type QueueConfig struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	MaxDepth int    `yaml:"maxDepth,omitempty" json:"maxDepth,omitempty"`
}

// Spec converts the declaration into a store queue spec
func (q QueueConfig) Spec() entity.QueueSpec {
	queueType := q.Type
	if queueType == "" {
		queueType = entity.QueueTypeLocal
	}
	return entity.QueueSpec{Name: q.Name, Type: queueType, MaxDepth: q.MaxDepth}
}

// ValidationError lists every problem found in a configuration
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid imposter configuration: %s", strings.Join(e.Problems, "; "))
}

// IsValidationError reports whether err carries configuration problems
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var queueTypes = map[string]bool{
	entity.QueueTypeLocal:    true,
	entity.QueueTypeRequest:  true,
	entity.QueueTypeResponse: true,
}

// Validate checks a configuration without applying it
func Validate(cfg Config) error {
	_, err := compile(cfg)
	return err
}

func compile(cfg Config) ([]*stub.Stub, error) {
	problems := check(cfg)

	stubs, stubProblems := stub.Compile(cfg.Stubs)
	problems = append(problems, stubProblems...)

	declared := make(map[string]bool, len(cfg.Queues))
	for _, q := range cfg.Queues {
		declared[q.Name] = true
	}
	for i, s := range stubs {
		for j, r := range s.Responses() {
			if r.Kind() == stub.KindProxy && !declared[r.ProxyQueue()] {
				problems = append(problems, fmt.Sprintf("stubs[%d].responses[%d].proxy.queue: queue %q is not declared", i, j, r.ProxyQueue()))
			}
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return stubs, nil
}

func check(cfg Config) []string {
	var problems []string

	if cfg.Port < 1 || cfg.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port: %d is out of range", cfg.Port))
	}
	if cfg.Protocol != ProtocolMQ {
		problems = append(problems, fmt.Sprintf("protocol: must be %q, got %q", ProtocolMQ, cfg.Protocol))
	}
	if cfg.MQ.Port < 0 || cfg.MQ.Port > 65535 {
		problems = append(problems, fmt.Sprintf("mq.port: %d is out of range", cfg.MQ.Port))
	}

	seen := make(map[string]bool, len(cfg.Queues))
	for i, q := range cfg.Queues {
		at := fmt.Sprintf("queues[%d]", i)
		if q.Name == "" {
			problems = append(problems, at+".name: is required")
		} else if seen[q.Name] {
			problems = append(problems, fmt.Sprintf("%s.name: duplicate queue %q", at, q.Name))
		}
		seen[q.Name] = true

		if q.Type != "" && !queueTypes[q.Type] {
			problems = append(problems, fmt.Sprintf("%s.type: unknown queue type %q", at, q.Type))
		}
		if q.MaxDepth < 0 {
			problems = append(problems, at+".maxDepth: must not be negative")
		}
	}

	return problems
}

type fileDocument struct {
	Imposters []Config `yaml:"imposters" json:"imposters"`
}

// ParseFile decodes an `imposters: [...]` document, in JSON or YAML
func ParseFile(data []byte) ([]Config, error) {
	var doc fileDocument
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		decoder := json.NewDecoder(bytes.NewReader(trimmed))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to parse imposters file: %w", err)
		}
		return doc.Imposters, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse imposters file: %w", err)
	}
	return doc.Imposters, nil
}
