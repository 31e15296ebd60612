/*
   Copyright 2016 GitHub Inc.
	 See https://github.com/github/gh-ost/blob/master/LICENSE
*/

package mysql

import (
	"testing"

	"github.com/openark/golib/log"
	test "github.com/openark/golib/tests"
)

func init() {
	log.SetLevel(log.ERROR)
}

func TestParseInstanceKey(t *testing.T) {
	{
		key, err := ParseInstanceKey("myhost:1234")
		test.S(t).ExpectNil(err)
		test.S(t).ExpectEquals(key.Hostname, "myhost")
		test.S(t).ExpectEquals(key.Port, 1234)
	}
	{
		key, err := ParseInstanceKey("myhost")
		test.S(t).ExpectNil(err)
		test.S(t).ExpectEquals(key.Hostname, "myhost")
		test.S(t).ExpectEquals(key.Port, 3306)
	}
	{
		key, err := ParseInstanceKey("[2001:db8::7648:6e8]:3308")
		test.S(t).ExpectNil(err)
		test.S(t).ExpectEquals(key.Hostname, "2001:db8::7648:6e8")
		test.S(t).ExpectEquals(key.Port, 3308)
	}
	{
		_, err := ParseInstanceKey("myhost:port")
		test.S(t).ExpectNotNil(err)
	}
}

func TestInstanceKeyEquals(t *testing.T) {
	i1 := InstanceKey{Hostname: "sql00.db", Port: 3306}
	i2 := InstanceKey{Hostname: "sql00.db", Port: 3306}
	i3 := InstanceKey{Hostname: "sql00.db", Port: 3307}

	test.S(t).ExpectTrue(i1.Equals(&i2))
	test.S(t).ExpectFalse(i1.Equals(&i3))
	test.S(t).ExpectFalse(i1.Equals(nil))
}

func TestInstanceKeyStringCode(t *testing.T) {
	{
		key := InstanceKey{Hostname: "sql00.db", Port: 3306}
		test.S(t).ExpectEquals(key.StringCode(), "sql00.db:3306")
		test.S(t).ExpectEquals(key.String(), "sql00.db:3306")
		test.S(t).ExpectTrue(key.IsValid())
	}
	{
		key := InstanceKey{Hostname: "::1", Port: 3306}
		test.S(t).ExpectEquals(key.StringCode(), "[::1]:3306")
	}
	{
		key := InstanceKey{Port: 3306}
		test.S(t).ExpectFalse(key.IsValid())
	}
}
