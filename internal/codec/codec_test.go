package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDRoundTrip(t *testing.T) {
	id := NewID()
	s := id.String()
	require.Len(t, s, 36)

	parsed, err := ParseID(s)
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParseIDRejectsMalformed(t *testing.T) {
	_, err := ParseID("not-a-valid-id")
	require.ErrorIs(t, err, ErrMalformedID)
}

func TestKeysAreOrderedByID(t *testing.T) {
	a := ID{0x00}
	b := ID{0x01}
	require.Less(t, string(NodeKey(a)), string(NodeKey(b)))
}

func TestOutAdjPrefixIsPrefixOfKey(t *testing.T) {
	from := NewID()
	edge := NewID()
	key := OutAdjKey(from, "KNOWS", edge)
	prefix := OutAdjPrefix(from, "KNOWS")
	require.True(t, len(key) > len(prefix))
	require.Equal(t, prefix, key[:len(prefix)])
}

func TestSecondaryIdxKeyPrefixRoundTrips(t *testing.T) {
	id := NewID()
	val := EncodeValue(nil, StringValue("alice"))
	key := SecondaryIdxKey("User", "name", val, id)
	prefix := SecondaryIdxValuePrefix("User", "name", val)
	require.Equal(t, prefix, key[:len(prefix)])
	require.Equal(t, id[:], key[len(prefix):])
}

func TestValueEncodeDecodeScalars(t *testing.T) {
	cases := []Value{
		NullValue(),
		BoolValue(true),
		BoolValue(false),
		I32Value(-42),
		I64Value(1 << 40),
		F64Value(3.14159),
		StringValue("hello, world"),
		BytesValue([]byte{0xde, 0xad, 0xbe, 0xef}),
	}
	for _, v := range cases {
		enc := EncodeValue(nil, v)
		dec, n, err := DecodeValue(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, dec)
	}
}

func TestValueEncodeDecodeNested(t *testing.T) {
	arr := ArrayValue([]Value{I32Value(1), I32Value(2), StringValue("three")})
	enc := EncodeValue(nil, arr)
	dec, _, err := DecodeValue(enc)
	require.NoError(t, err)
	require.Equal(t, arr, dec)

	obj := ObjectValue([]string{"name", "age"}, []Value{StringValue("bob"), I32Value(30)})
	enc = EncodeValue(nil, obj)
	dec, _, err = DecodeValue(enc)
	require.NoError(t, err)
	require.Equal(t, obj, dec)
}

func TestPropertiesRoundTrip(t *testing.T) {
	props := Properties{
		Keys:   []string{"a", "b"},
		Values: []Value{I32Value(1), StringValue("x")},
	}
	enc := EncodeProperties(nil, props)
	dec, _, err := DecodeProperties(enc)
	require.NoError(t, err)
	require.Equal(t, props, dec)
}

func TestLabelHashIsDeterministic(t *testing.T) {
	require.Equal(t, LabelHash4("Person"), LabelHash4("Person"))
	require.NotEqual(t, LabelHash4("Person"), LabelHash4("Company"))
}
