package ddbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"

	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key encoding for BadgerDB that supports proper lexicographic ordering.
//
// Table items: [t][sep][table][sep][partitionKey][sep][sortKey][sep]
// Index items: [i][sep][table][sep][index][sep][indexKeys...][tableKeys...]
// Table metadata: [m][sep][table]
//
// The separator byte (0x00) never appears inside an encoded key value:
// strings and binaries are escaped and numbers have a fixed width.

const (
	keySeparator byte = 0x00

	tableMarker byte = 't'
	indexMarker byte = 'i'
	metaMarker  byte = 'm'
)

// Key type markers for encoding
const (
	keyTypeString byte = 'S'
	keyTypeNumber byte = 'N'
	keyTypeBinary byte = 'B'
)

// tablePrefix returns the prefix shared by all items of a table.
func tablePrefix(tableName string) []byte {
	buf := []byte{tableMarker, keySeparator}
	buf = append(buf, tableName...)
	return append(buf, keySeparator)
}

// indexPrefix returns the prefix shared by all entries of a secondary index.
func indexPrefix(tableName, indexName string) []byte {
	buf := []byte{indexMarker, keySeparator}
	buf = append(buf, tableName...)
	buf = append(buf, keySeparator)
	buf = append(buf, indexName...)
	return append(buf, keySeparator)
}

// metaKey is where a table definition is persisted.
func metaKey(tableName string) []byte {
	buf := []byte{metaMarker, keySeparator}
	return append(buf, tableName...)
}

func metaPrefix() []byte {
	return []byte{metaMarker, keySeparator}
}

func encodeTableKey(tableName string, pk table.PrimaryKey) ([]byte, error) {
	return appendPrimaryKey(tablePrefix(tableName), pk)
}

// encodeIndexKey appends the table key after the index key so entries sharing
// index key values stay distinct.
func encodeIndexKey(tableName, indexName string, idxPK, tablePK table.PrimaryKey) ([]byte, error) {
	buf, err := appendPrimaryKey(indexPrefix(tableName, indexName), idxPK)
	if err != nil {
		return nil, err
	}
	return appendPrimaryKey(buf, tablePK)
}

// encodePartitionPrefix returns the prefix of all keys within one partition of
// the table (prefix = tablePrefix) or index (prefix = indexPrefix).
func encodePartitionPrefix(prefix []byte, kind table.KeyKind, value any) ([]byte, error) {
	buf := bytes.Clone(prefix)
	enc, err := encodeKeyValue(value, kind)
	if err != nil {
		return nil, fmt.Errorf("encode partition key: %w", err)
	}
	buf = append(buf, enc...)
	return append(buf, keySeparator), nil
}

func appendPrimaryKey(buf []byte, pk table.PrimaryKey) ([]byte, error) {
	pkBytes, err := encodeKeyValue(pk.Values.PartitionKey, pk.Definition.PartitionKey.Kind)
	if err != nil {
		return nil, fmt.Errorf("encode partition key: %w", err)
	}
	buf = append(buf, pkBytes...)
	buf = append(buf, keySeparator)

	if pk.Definition.SortKey.Name != "" {
		skBytes, err := encodeKeyValue(pk.Values.SortKey, pk.Definition.SortKey.Kind)
		if err != nil {
			return nil, fmt.Errorf("encode sort key: %w", err)
		}
		buf = append(buf, skBytes...)
		buf = append(buf, keySeparator)
	}
	return buf, nil
}

// encodeKeyValue encodes a key value with proper ordering based on key kind.
func encodeKeyValue(value any, kind table.KeyKind) ([]byte, error) {
	var buf bytes.Buffer

	switch kind {
	case table.KeyKindS:
		buf.WriteByte(keyTypeString)
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for S key, got %T", value)
		}
		buf.Write(escapeBytes([]byte(s)))

	case table.KeyKindN:
		buf.WriteByte(keyTypeNumber)
		var numStr string
		switch v := value.(type) {
		case string:
			numStr = v
		case int64:
			numStr = strconv.FormatInt(v, 10)
		default:
			return nil, fmt.Errorf("expected number for N key, got %T", value)
		}
		encoded, err := encodeNumber(numStr)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)

	case table.KeyKindB:
		buf.WriteByte(keyTypeBinary)
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected binary for B key, got %T", value)
		}
		buf.Write(escapeBytes(b))

	default:
		return nil, fmt.Errorf("unsupported key kind: %s", kind)
	}

	return buf.Bytes(), nil
}

// encodeNumber encodes a number string for lexicographic ordering.
// Format: [sign byte][big-endian float64 bits]
// Positive numbers: 0x80 followed by the bits with the sign flipped.
// Negative numbers: 0x7F followed by the inverted bits.
func encodeNumber(numStr string) ([]byte, error) {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", numStr, err)
	}

	bits := math.Float64bits(f)
	buf := make([]byte, 9)

	if f >= 0 {
		buf[0] = 0x80
		bits ^= (1 << 63)
	} else {
		buf[0] = 0x7F
		bits = ^bits
	}

	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf, nil
}

// escapeBytes escapes null bytes (0x00) in the input to preserve separator integrity.
// Uses 0x01 0x01 for literal 0x00, and 0x01 0x02 for literal 0x01.
func escapeBytes(b []byte) []byte {
	var buf bytes.Buffer
	for _, c := range b {
		switch c {
		case 0x00:
			buf.WriteByte(0x01)
			buf.WriteByte(0x01)
		case 0x01:
			buf.WriteByte(0x01)
			buf.WriteByte(0x02)
		default:
			buf.WriteByte(c)
		}
	}
	return buf.Bytes()
}

// Item serialization for BadgerDB values

// SerializeItem serializes a DynamoDB item to bytes for storage.
func SerializeItem(item map[string]types.AttributeValue) ([]byte, error) {
	serializable := make(map[string]serializableAV)
	for k, v := range item {
		serializable[k] = toSerializable(v)
	}

	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(serializable); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeItem deserializes bytes back to a DynamoDB item.
func DeserializeItem(data []byte) (map[string]types.AttributeValue, error) {
	var serializable map[string]serializableAV
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&serializable); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}

	result := make(map[string]types.AttributeValue)
	for k, v := range serializable {
		result[k] = fromSerializable(v)
	}
	return result, nil
}

// serializableAV is a gob-encodable representation of AttributeValue
type serializableAV struct {
	Type  string
	Value any
}

func init() {
	gob.Register(map[string]serializableAV{})
	gob.Register([]serializableAV{})
	gob.Register([]string{})
	gob.Register([][]byte{})
}

func toSerializable(av types.AttributeValue) serializableAV {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return serializableAV{Type: "S", Value: v.Value}
	case *types.AttributeValueMemberN:
		return serializableAV{Type: "N", Value: v.Value}
	case *types.AttributeValueMemberB:
		return serializableAV{Type: "B", Value: v.Value}
	case *types.AttributeValueMemberBOOL:
		return serializableAV{Type: "BOOL", Value: v.Value}
	case *types.AttributeValueMemberNULL:
		return serializableAV{Type: "NULL", Value: v.Value}
	case *types.AttributeValueMemberSS:
		return serializableAV{Type: "SS", Value: v.Value}
	case *types.AttributeValueMemberNS:
		return serializableAV{Type: "NS", Value: v.Value}
	case *types.AttributeValueMemberBS:
		return serializableAV{Type: "BS", Value: v.Value}
	case *types.AttributeValueMemberM:
		m := make(map[string]serializableAV)
		for k, val := range v.Value {
			m[k] = toSerializable(val)
		}
		return serializableAV{Type: "M", Value: m}
	case *types.AttributeValueMemberL:
		l := make([]serializableAV, len(v.Value))
		for i, val := range v.Value {
			l[i] = toSerializable(val)
		}
		return serializableAV{Type: "L", Value: l}
	default:
		panic(fmt.Sprintf("unsupported attribute value type: %T", av))
	}
}

func fromSerializable(sav serializableAV) types.AttributeValue {
	switch sav.Type {
	case "S":
		return &types.AttributeValueMemberS{Value: sav.Value.(string)}
	case "N":
		return &types.AttributeValueMemberN{Value: sav.Value.(string)}
	case "B":
		b, _ := sav.Value.([]byte)
		return &types.AttributeValueMemberB{Value: b}
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: sav.Value.(bool)}
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: sav.Value.(bool)}
	case "SS":
		return &types.AttributeValueMemberSS{Value: sav.Value.([]string)}
	case "NS":
		return &types.AttributeValueMemberNS{Value: sav.Value.([]string)}
	case "BS":
		return &types.AttributeValueMemberBS{Value: sav.Value.([][]byte)}
	case "M":
		m := make(map[string]types.AttributeValue)
		values, _ := sav.Value.(map[string]serializableAV)
		for k, v := range values {
			m[k] = fromSerializable(v)
		}
		return &types.AttributeValueMemberM{Value: m}
	case "L":
		values, _ := sav.Value.([]serializableAV)
		l := make([]types.AttributeValue, len(values))
		for i, v := range values {
			l[i] = fromSerializable(v)
		}
		return &types.AttributeValueMemberL{Value: l}
	default:
		panic(fmt.Sprintf("unsupported serializable type: %s", sav.Type))
	}
}
