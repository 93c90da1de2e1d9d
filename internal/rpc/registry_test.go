package rpc

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nopHandler = HandlerFunc(func(conn Conn, msg *dbus.Message) Result { return Handled })

func TestNewMethodRegistry(t *testing.T) {
	tests := []struct {
		name    string
		tables  [][]MethodEntry
		wantErr error
		errMsg  string
	}{
		{
			name: "merged sub-tables",
			tables: [][]MethodEntry{
				{{Interface: InterfaceCore, Method: "A", Handler: nopHandler}},
				{{Interface: InterfacePlugins, Method: "A", Handler: nopHandler}},
			},
		},
		{
			name: "duplicate across tables",
			tables: [][]MethodEntry{
				{{Interface: InterfaceCore, Method: "A", Handler: nopHandler}},
				{{Interface: InterfaceCore, Method: "A", Handler: nopHandler}},
			},
			wantErr: ErrDuplicateMethod,
		},
		{
			name:   "missing handler",
			tables: [][]MethodEntry{{{Interface: InterfaceCore, Method: "A"}}},
			errMsg: "has no handler",
		},
		{
			name:   "empty member",
			tables: [][]MethodEntry{{{Interface: InterfaceCore, Handler: nopHandler}}},
			errMsg: "empty interface or member",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewMethodRegistry(tt.tables...)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errMsg != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			default:
				require.NoError(t, err)
				assert.Equal(t, 2, reg.Len())
			}
		})
	}
}

func TestMethodRegistry_KeysSorted(t *testing.T) {
	reg, err := NewMethodRegistry([]MethodEntry{
		{Interface: InterfacePlugins, Method: "B", Handler: nopHandler},
		{Interface: InterfaceCore, Method: "Z", Handler: nopHandler},
		{Interface: InterfaceCore, Method: "A", Handler: nopHandler},
	})
	require.NoError(t, err)

	assert.Equal(t, []MethodKey{
		{InterfaceCore, "A"},
		{InterfaceCore, "Z"},
		{InterfacePlugins, "B"},
	}, reg.Keys())

	_, ok := reg.Lookup(InterfaceCore, "Z")
	assert.True(t, ok)
	_, ok = reg.Lookup(InterfacePlugins, "Z")
	assert.False(t, ok)
}

func TestPropertyRegistry_Construction(t *testing.T) {
	get := func() interface{} { return int32(1) }

	_, err := NewPropertyRegistry(
		PropertyEntry{Name: "a", Type: TypeInt32, Get: get},
		PropertyEntry{Name: "a", Type: TypeInt32, Get: get},
	)
	assert.ErrorIs(t, err, ErrDuplicateProperty)

	_, err = NewPropertyRegistry(PropertyEntry{Name: "d", Type: WireType("d"), Get: get})
	assert.Error(t, err)

	_, err = NewPropertyRegistry(PropertyEntry{Type: TypeInt32, Get: get})
	assert.Error(t, err)
}

func TestPropertyRegistry_GetSet(t *testing.T) {
	count := int32(3)
	enabled := true
	props, err := NewPropertyRegistry(
		PropertyEntry{Name: "count", Type: TypeInt32, Get: func() interface{} { return count }},
		PropertyEntry{
			Name: "enabled",
			Type: TypeBool,
			Get:  func() interface{} { return enabled },
			Set: func(v interface{}) bool {
				enabled = v.(bool)
				return true
			},
		},
		PropertyEntry{Name: "broken", Type: TypeString, Get: func() interface{} { return int32(1) }},
	)
	require.NoError(t, err)

	v, err := props.Get("count")
	require.NoError(t, err)
	assert.Equal(t, "i", v.Signature().String())
	assert.Equal(t, int32(3), v.Value())

	_, err = props.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownProperty)

	_, err = props.Get("broken")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownProperty)

	_, err = props.Set("count", dbus.MakeVariant(int32(5)))
	assert.ErrorIs(t, err, ErrUnknownProperty, "read-only properties refuse writes")
	assert.Equal(t, int32(3), count)

	_, err = props.Set("enabled", dbus.MakeVariant("no"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.True(t, enabled)

	ok, err := props.Set("enabled", dbus.MakeVariant(false))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, enabled)
}
