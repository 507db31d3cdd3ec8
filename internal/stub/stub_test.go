package stub

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/moroshma/mqsim/internal/domain/entity"
)

func decode(t *testing.T, doc string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	return v
}

func compile(t *testing.T, doc string) []*Stub {
	t.Helper()
	stubs, problems := Compile(decode(t, doc))
	require.Empty(t, problems)
	return stubs
}

func request(t *testing.T, payload string) Request {
	t.Helper()
	req, err := NewRequest("DEV.REQUEST", &entity.Message{
		MessageID:     "MSG-00000001-1700000000000",
		CorrelationID: "CORR-1",
		Payload:       json.RawMessage(payload),
		PutTime:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Priority:      4,
		Format:        entity.DefaultFormat,
		ReplyToQueue:  "DEV.REPLY",
		Expiry:        entity.NoExpiry,
	})
	require.NoError(t, err)
	return req
}

func TestNewRequest(t *testing.T) {
	req := request(t, `{"op":"GET_PRODUCT","id":12}`)

	assert.Equal(t, "DEV.REPLY", req["path"])
	assert.Equal(t, "DEV.REQUEST", req["queue"])

	v, ok := req.Get("headers.CorrelationId")
	require.True(t, ok)
	assert.Equal(t, "CORR-1", v)

	v, ok = req.Get("headers.Priority")
	require.True(t, ok)
	assert.Equal(t, "4", v)

	v, ok = req.Get("body.id")
	require.True(t, ok)
	assert.Equal(t, float64(12), v)

	_, ok = req.Get("body.missing")
	assert.False(t, ok)
}

func TestNewRequest_DefaultPathAndErrors(t *testing.T) {
	req, err := NewRequest("Q", &entity.Message{MessageID: "M", Payload: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.Equal(t, "/", req["path"])

	_, err = NewRequest("Q", &entity.Message{MessageID: "M", Payload: json.RawMessage(`{bad`)})
	assert.Error(t, err)

	_, err = NewRequest("Q", nil)
	assert.Error(t, err)
}

func TestNewRequest_DoesNotAliasPayload(t *testing.T) {
	msg := &entity.Message{MessageID: "M", Payload: json.RawMessage(`{"a":{"b":1}}`)}
	req, err := NewRequest("Q", msg)
	require.NoError(t, err)

	body := req["body"].(map[string]interface{})
	body["a"].(map[string]interface{})["b"] = 2.0

	assert.Equal(t, `{"a":{"b":1}}`, string(msg.Payload))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		predicate string
		payload   string
		want      bool
	}{
		{name: "equals string", predicate: `{"equals":{"body":"PING"}}`, payload: `"PING"`, want: true},
		{name: "equals string mismatch", predicate: `{"equals":{"body":"PING"}}`, payload: `"PONG"`, want: false},
		{name: "equals strict type", predicate: `{"equals":{"body.id":"12"}}`, payload: `{"id":12}`, want: false},
		{name: "equals number", predicate: `{"equals":{"body.id":12}}`, payload: `{"id":12}`, want: true},
		{name: "equals nested flattens", predicate: `{"equals":{"body":{"order":{"state":"NEW"}}}}`, payload: `{"order":{"state":"NEW","n":1}}`, want: true},
		{name: "equals array", predicate: `{"equals":{"body.tags":["a","b"]}}`, payload: `{"tags":["a","b"]}`, want: true},
		{name: "equals header", predicate: `{"equals":{"headers":{"CorrelationId":"CORR-1"}}}`, payload: `1`, want: true},
		{name: "equals queue", predicate: `{"equals":{"queue":"DEV.REQUEST"}}`, payload: `1`, want: true},
		{name: "contains", predicate: `{"contains":{"body":"GET_PRODUCT"}}`, payload: `"GET_PRODUCT:123"`, want: true},
		{name: "contains object coerced", predicate: `{"contains":{"body":"GET_PRODUCT"}}`, payload: `{"op":"GET_PRODUCT"}`, want: true},
		{name: "contains number coerced", predicate: `{"contains":{"body.id":"23"}}`, payload: `{"id":1234}`, want: true},
		{name: "contains missing field", predicate: `{"contains":{"body.nope":""}}`, payload: `{"id":1}`, want: false},
		{name: "matches", predicate: `{"matches":{"body":"^GET_[A-Z]+$"}}`, payload: `"GET_PRODUCT"`, want: true},
		{name: "matches mismatch", predicate: `{"matches":{"body":"^GET_[A-Z]+$"}}`, payload: `"GET_product"`, want: false},
		{name: "matches header", predicate: `{"matches":{"headers.MessageId":"^MSG-\\d{8}-"}}`, payload: `1`, want: true},
		{name: "exists true", predicate: `{"exists":{"body.id":true}}`, payload: `{"id":1}`, want: true},
		{name: "exists true missing", predicate: `{"exists":{"body.id":true}}`, payload: `{}`, want: false},
		{name: "exists true null", predicate: `{"exists":{"body.id":true}}`, payload: `{"id":null}`, want: false},
		{name: "exists false missing", predicate: `{"exists":{"body.id":false}}`, payload: `{}`, want: true},
		{name: "exists false present", predicate: `{"exists":{"body.id":false}}`, payload: `{"id":0}`, want: false},
		{name: "all fields must pass", predicate: `{"equals":{"body.a":1,"body.b":2}}`, payload: `{"a":1,"b":3}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, problems := compilePredicate(decode(t, tt.predicate), "p")
			require.Empty(t, problems)
			assert.Equal(t, tt.want, p.Matches(request(t, tt.payload)))
		})
	}
}

func TestCompile_Problems(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		problem string
	}{
		{name: "stubs not array", doc: `{"a":1}`, problem: "stubs: must be an array"},
		{name: "unknown operator", doc: `[{"predicates":[{"startsWith":{"body":"x"}}],"responses":[{"is":{}}]}]`, problem: `stubs[0].predicates[0]: unknown predicate operator "startsWith"`},
		{name: "two operators", doc: `[{"predicates":[{"equals":{"body":"x"},"contains":{"body":"y"}}],"responses":[{"is":{}}]}]`, problem: "exactly one operator"},
		{name: "bad regex", doc: `[{"predicates":[{"matches":{"body":"("}}],"responses":[{"is":{}}]}]`, problem: "invalid pattern"},
		{name: "exists not bool", doc: `[{"predicates":[{"exists":{"body":"yes"}}],"responses":[{"is":{}}]}]`, problem: "expected a boolean"},
		{name: "no responses", doc: `[{"predicates":[]}]`, problem: "stubs[0].responses: must be a non-empty array"},
		{name: "two response kinds", doc: `[{"responses":[{"is":{},"proxy":{"queue":"Q"}}]}]`, problem: "exactly one of is, proxy or inject"},
		{name: "inject rejected", doc: `[{"responses":[{"inject":"function(){}"}]}]`, problem: "inject responses are not supported"},
		{name: "proxy without queue", doc: `[{"responses":[{"proxy":{}}]}]`, problem: "target queue is required"},
		{name: "lookup rejected", doc: `[{"responses":[{"is":{},"behaviors":[{"lookup":{}}]}]}]`, problem: "lookup behavior is not supported"},
		{name: "unknown behavior", doc: `[{"responses":[{"is":{},"behaviors":[{"shellTransform":"x"}]}]}]`, problem: `unknown behavior "shellTransform"`},
		{name: "bad wait", doc: `[{"responses":[{"is":{},"behaviors":[{"wait":"soon"}]}]}]`, problem: "non-negative number"},
		{name: "bad copy", doc: `[{"responses":[{"is":{},"behaviors":[{"copy":{"from":"body"}}]}]}]`, problem: "from and into are required"},
		{name: "unknown stub field", doc: `[{"responses":[{"is":{}}],"weight":2}]`, problem: `unknown field "weight"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubs, problems := Compile(decode(t, tt.doc))
			assert.Nil(t, stubs)
			require.NotEmpty(t, problems)
			assert.Contains(t, strings.Join(problems, "\n"), tt.problem)
		})
	}
}

func TestCompile_AggregatesAllProblems(t *testing.T) {
	_, problems := Compile(decode(t, `[
		{"predicates":[{"startsWith":{"body":"x"}}],"responses":[{"is":{}}]},
		{"responses":[{"inject":"x"}]},
		{"responses":[{"is":{},"behaviors":[{"lookup":{}}]}]}
	]`))
	assert.Len(t, problems, 3)
}

func TestCompile_AcceptsYAML(t *testing.T) {
	var doc interface{}
	require.NoError(t, yaml.Unmarshal([]byte(`
- predicates:
    - equals:
        body:
          id: 12
  responses:
    - is:
        data: ok
      behaviors:
        - wait: 0
`), &doc))

	stubs, problems := Compile(doc)
	require.Empty(t, problems)
	require.Len(t, stubs, 1)
	assert.True(t, stubs[0].Matches(request(t, `{"id":12}`)))
}

func TestMatch_FirstMatchWins(t *testing.T) {
	stubs := compile(t, `[
		{"predicates":[{"contains":{"body":"GET"}}],"responses":[{"is":{"which":"narrow"}}]},
		{"predicates":[{"exists":{"body":true}}],"responses":[{"is":{"which":"broad"}}]}
	]`)

	s, idx, ok := Match(stubs, request(t, `"GET_PRODUCT"`))
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	out, err := s.NextResponse().Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"which": "narrow"}, out)

	_, idx, ok = Match(stubs, request(t, `"PUT_PRODUCT"`))
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, _, ok = Match(stubs, request(t, `null`))
	assert.False(t, ok)
}

func TestMatch_EmptyPredicatesMatchAll(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":{"ok":true}}]}]`)
	_, _, ok := Match(stubs, request(t, `"anything"`))
	assert.True(t, ok)
}

func TestGetProductScenario(t *testing.T) {
	stubs := compile(t, `[{"predicates":[{"contains":{"body":"GET_PRODUCT"}}],"responses":[{"is":{"data":"{\"productId\":\"12345\"}"}}]}]`)

	s, _, ok := Match(stubs, request(t, `"GET_PRODUCT 12345"`))
	require.True(t, ok)
	out, err := s.NextResponse().Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"data": `{"productId":"12345"}`}, out)

	_, _, ok = Match(stubs, request(t, `"LIST_PRODUCTS"`))
	assert.False(t, ok)
}

func TestNextResponse_RoundRobin(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":{"n":1}},{"is":{"n":2}}]}]`)
	var got []interface{}
	for i := 0; i < 4; i++ {
		out, err := stubs[0].NextResponse().Render(context.Background(), nil)
		require.NoError(t, err)
		got = append(got, out.(map[string]interface{})["n"])
	}
	assert.Equal(t, []interface{}{1.0, 2.0, 1.0, 2.0}, got)
}

func TestRender_TemplateIsNotShared(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":{"data":{"n":1}}}]}]`)
	r := stubs[0].NextResponse()

	first, err := r.Render(context.Background(), nil)
	require.NoError(t, err)
	first.(map[string]interface{})["data"].(map[string]interface{})["n"] = 99.0

	second, err := r.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, second.(map[string]interface{})["data"].(map[string]interface{})["n"])
}

func TestCopyBehavior(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":{"data":{"status":"OK"}},"behaviors":[
		{"copy":{"from":"body.productId","into":"data.product.id"}},
		{"copy":[{"from":"headers.CorrelationId","into":"correlationId"},{"from":"body.missing","into":"never"}]}
	]}]}]`)

	out, err := stubs[0].NextResponse().Render(context.Background(), request(t, `{"productId":"12345"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"data": map[string]interface{}{
			"status":  "OK",
			"product": map[string]interface{}{"id": "12345"},
		},
		"correlationId": "CORR-1",
	}, out)
}

func TestCopyBehavior_Errors(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":"plain text","behaviors":[{"copy":{"from":"body","into":"x"}}]}]}]`)
	_, err := stubs[0].NextResponse().Render(context.Background(), request(t, `1`))
	assert.Error(t, err)

	stubs = compile(t, `[{"responses":[{"is":{"data":"scalar"},"behaviors":[{"copy":{"from":"body","into":"data.x"}}]}]}]`)
	_, err = stubs[0].NextResponse().Render(context.Background(), request(t, `1`))
	assert.Error(t, err)
}

func TestBehaviors_AppliedInOrder(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":{},"behaviors":[
		{"copy":{"from":"body.a","into":"v"}},
		{"copy":{"from":"body.b","into":"v"}}
	]}]}]`)

	out, err := stubs[0].NextResponse().Render(context.Background(), request(t, `{"a":"first","b":"second"}`))
	require.NoError(t, err)
	assert.Equal(t, "second", out.(map[string]interface{})["v"])
}

func TestWaitBehavior(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"is":{"ok":true},"behaviors":[{"wait":30}]}]}]`)
	r := stubs[0].NextResponse()

	start := time.Now()
	_, err := r.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	slow := compile(t, `[{"responses":[{"is":{},"behaviors":[{"wait":60000}]}]}]`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow[0].NextResponse().Render(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProxyResponse(t *testing.T) {
	stubs := compile(t, `[{"responses":[{"proxy":{"queue":"BACKEND.IN"},"behaviors":[{"copy":{"from":"queue","into":"source"}}]}]}]`)
	r := stubs[0].NextResponse()
	assert.Equal(t, KindProxy, r.Kind())
	assert.Equal(t, "BACKEND.IN", r.ProxyQueue())

	out, err := r.ApplyBehaviors(context.Background(), request(t, `1`), map[string]interface{}{"status": "FORWARDED"})
	require.NoError(t, err)
	assert.Equal(t, "DEV.REQUEST", out.(map[string]interface{})["source"])
}

func TestNoMatchResponse(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	resp := NoMatchResponse("MSG-1", now)
	assert.Equal(t, "ERROR", resp["status"])
	assert.Equal(t, NoMatchError, resp["error"])
	assert.Equal(t, "MSG-1", resp["originalMessageId"])
	assert.Equal(t, "2024-01-02T03:04:05Z", resp["timestamp"])
}

func TestPathHelpers(t *testing.T) {
	root := map[string]interface{}{"list": []interface{}{"a", map[string]interface{}{"b": true}}}

	v, ok := getPath(root, "list.1.b")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = getPath(root, "list.5")
	assert.False(t, ok)

	require.NoError(t, setPath(root, "x.y.z", 1))
	v, _ = getPath(root, "x.y.z")
	assert.Equal(t, 1, v)

	assert.Error(t, setPath(root, "list.0", 1))
	assert.Error(t, setPath(root, "", 1))

	assert.Equal(t, "1.5", stringify(1.5))
	assert.Equal(t, "true", stringify(true))
	assert.Equal(t, `{"a":1}`, stringify(map[string]interface{}{"a": 1}))
}
