package decode

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"eventflow/internal/model"
	"eventflow/internal/schema"
)

const (
	transferTopic0 = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	approvalTopic0 = "0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925"
	swapV3Topic0   = "0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"

	addrFrom = "0x1111111111111111111111111111111111111111"
	addrTo   = "0x2222222222222222222222222222222222222222"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(schema.Builtins())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func topicAddr(addr string) string {
	return "0x000000000000000000000000" + strings.TrimPrefix(addr, "0x")
}

func wordUint(n uint64) string {
	return fmt.Sprintf("%064x", n)
}

func wordInt(n int64) string {
	v := big.NewInt(n)
	if n < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 256)
		v = v.Add(v, mod)
	}
	return fmt.Sprintf("%064x", v)
}

func transferLog(block uint64, logIndex uint64, amount uint64) model.LogRecord {
	return model.LogRecord{
		BlockNumber: block,
		TxHash:      "0xaaaa000000000000000000000000000000000000000000000000000000000001",
		LogIndex:    logIndex,
		Address:     "0x3333333333333333333333333333333333333333",
		Topics:      []string{transferTopic0, topicAddr(addrFrom), topicAddr(addrTo)},
		Data:        "0x" + wordUint(amount),
	}
}

func TestBatchDecodesTransfer(t *testing.T) {
	reg := testRegistry(t)
	records := []model.LogRecord{transferLog(100, 0, 5000)}

	result := Batch(records, reg)
	if len(result.Events) != 1 {
		t.Fatalf("events length = %d", len(result.Events))
	}
	ev := result.Events[0]
	if ev == nil {
		t.Fatalf("expected decoded event, errors: %+v", result.Errors)
	}
	if ev.Kind != "Transfer" {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if len(ev.Indexed) != 2 || len(ev.Body) != 1 {
		t.Fatalf("param counts: indexed=%d body=%d", len(ev.Indexed), len(ev.Body))
	}
	if ev.Indexed[0].Kind != model.KindAddress || ev.Indexed[0].Addr.Hex() != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("from = %s", ev.Indexed[0].String())
	}
	if ev.Body[0].Kind != model.KindUint || ev.Body[0].Int.String() != "5000" {
		t.Fatalf("amount = %s", ev.Body[0].String())
	}
	if ev.Raw == nil || ev.Raw.BlockNumber != 100 {
		t.Fatalf("missing raw reference")
	}
}

func TestBatchUnknownTopic0(t *testing.T) {
	reg := testRegistry(t)
	records := []model.LogRecord{
		{
			BlockNumber: 1,
			TxHash:      "0xbbbb000000000000000000000000000000000000000000000000000000000001",
			Topics:      []string{"0x" + strings.Repeat("ab", 32)},
			Data:        "0x",
		},
	}

	result := Batch(records, reg)
	if result.Events[0] != nil {
		t.Fatalf("unknown record should decode to nil")
	}
	if result.Unknown != 1 {
		t.Fatalf("unknown = %d", result.Unknown)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unknown records are not decode errors: %+v", result.Errors)
	}
}

func TestBatchMalformedRecordDoesNotPoisonNeighbors(t *testing.T) {
	reg := testRegistry(t)

	malformed := model.LogRecord{
		BlockNumber: 7,
		TxHash:      "0xcccc000000000000000000000000000000000000000000000000000000000001",
		LogIndex:    3,
		Topics:      []string{approvalTopic0, topicAddr(addrFrom), topicAddr(addrTo)},
		Data:        "0x1234", // shorter than one 32-byte word
	}
	wellFormed := model.LogRecord{
		BlockNumber: 7,
		TxHash:      "0xcccc000000000000000000000000000000000000000000000000000000000001",
		LogIndex:    4,
		Topics:      []string{approvalTopic0, topicAddr(addrFrom), topicAddr(addrTo)},
		Data:        "0x" + wordUint(42),
	}

	result := Batch([]model.LogRecord{malformed, wellFormed}, reg)
	if len(result.Events) != 2 {
		t.Fatalf("length invariant violated: %d", len(result.Events))
	}
	if result.Events[0] != nil {
		t.Fatalf("malformed record should decode to nil")
	}
	if len(result.Errors) != 1 || result.Errors[0].LogIndex != 3 {
		t.Fatalf("expected one decode error for log index 3, got %+v", result.Errors)
	}
	if result.Events[1] == nil {
		t.Fatalf("well-formed neighbor should still decode")
	}
	if result.Events[1].Body[0].Int.String() != "42" {
		t.Fatalf("amount = %s", result.Events[1].Body[0].String())
	}
}

func TestBatchTopicCountMismatch(t *testing.T) {
	reg := testRegistry(t)
	record := model.LogRecord{
		BlockNumber: 9,
		TxHash:      "0xdddd000000000000000000000000000000000000000000000000000000000001",
		Topics:      []string{transferTopic0, topicAddr(addrFrom)}, // one indexed topic missing
		Data:        "0x" + wordUint(1),
	}

	result := Batch([]model.LogRecord{record}, reg)
	if result.Events[0] != nil {
		t.Fatalf("expected nil for topic count mismatch")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected decode error, got %+v", result.Errors)
	}
}

func wordBig(s string) string {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad big literal: " + s)
	}
	return fmt.Sprintf("%064x", v)
}

func TestBatchDecodesSignedValues(t *testing.T) {
	reg := testRegistry(t)
	sqrtPrice := "79228162514264337593543950336"
	data := "0x" + wordInt(-5) + wordInt(5) + wordBig(sqrtPrice) + wordUint(1000) + wordInt(-887272)
	record := model.LogRecord{
		BlockNumber: 12,
		TxHash:      "0xeeee000000000000000000000000000000000000000000000000000000000001",
		Topics:      []string{swapV3Topic0, topicAddr(addrFrom), topicAddr(addrTo)},
		Data:        data,
	}

	result := Batch([]model.LogRecord{record}, reg)
	ev := result.Events[0]
	if ev == nil {
		t.Fatalf("expected decoded event, errors: %+v", result.Errors)
	}
	if ev.Kind != "SwapV3" {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Body[0].Kind != model.KindInt || ev.Body[0].Int.String() != "-5" {
		t.Fatalf("amount0 = %s", ev.Body[0].String())
	}
	if ev.Body[2].Int.String() != sqrtPrice {
		t.Fatalf("sqrt_price_x96 = %s", ev.Body[2].String())
	}
	if ev.Body[4].Int.String() != "-887272" {
		t.Fatalf("tick = %s", ev.Body[4].String())
	}
}
