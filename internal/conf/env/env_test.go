package env

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type myDuration time.Duration

func (d *myDuration) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	du, err := time.ParseDuration(in)
	if err != nil {
		return err
	}
	*d = myDuration(du)

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *myDuration) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}

type mySubStruct struct {
	MyInt2 int `json:"myInt2"`
}

type testStruct struct {
	MyString   string      `json:"myString"`
	MyInt      int         `json:"myInt"`
	MyBool     bool        `json:"myBool"`
	MyDuration myDuration  `json:"myDuration"`
	MySlice    []string    `json:"mySlice"`
	MyEmpty    []string    `json:"myEmpty"`
	MySub      mySubStruct `json:"mySub"`
	Unexported string      `json:"-"`
}

func TestLoad(t *testing.T) {
	env := map[string]string{
		"MYPREFIX_MYSTRING":     "testcontent",
		"MYPREFIX_MYINT":        "123",
		"MYPREFIX_MYBOOL":       "yes",
		"MYPREFIX_MYDURATION":   "22s",
		"MYPREFIX_MYSLICE":      "el1,el2",
		"MYPREFIX_MYEMPTY":      "",
		"MYPREFIX_MYSUB_MYINT2": "456",
		"MYPREFIX_UNEXPORTED":   "ignored",
	}

	s := testStruct{
		MyEmpty: []string{"a"},
	}

	err := loadWithEnv(env, "MYPREFIX", &s)
	require.NoError(t, err)

	require.Equal(t, testStruct{
		MyString:   "testcontent",
		MyInt:      123,
		MyBool:     true,
		MyDuration: myDuration(22 * time.Second),
		MySlice:    []string{"el1", "el2"},
		MyEmpty:    []string{},
		MySub:      mySubStruct{MyInt2: 456},
	}, s)
}

func TestLoadErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		env  map[string]string
	}{
		{
			"invalid int",
			map[string]string{"MYPREFIX_MYINT": "abc"},
		},
		{
			"invalid bool",
			map[string]string{"MYPREFIX_MYBOOL": "maybe"},
		},
		{
			"invalid duration",
			map[string]string{"MYPREFIX_MYDURATION": "22"},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var s testStruct
			err := loadWithEnv(ca.env, "MYPREFIX", &s)
			require.Error(t, err)
		})
	}
}
