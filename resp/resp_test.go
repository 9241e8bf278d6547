/*
Copyright (C) 2026  kvmesh contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package resp

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCommandArrayForm(t *testing.T) {
	r := bufio.NewReader(strings("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n"))
	args, err := ReadCommand(r)
	require.NoError(t, err)
	require.Equal(t, []string{"SET", "foo", "bar"}, args)
}

func TestReadCommandInlineForm(t *testing.T) {
	r := bufio.NewReader(strings("PING\r\n"))
	args, err := ReadCommand(r)
	require.NoError(t, err)
	require.Equal(t, []string{"PING"}, args)
}

func TestReadCommandPipelinedBatch(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 16; i++ {
		buf.WriteString("*1\r\n$4\r\nPING\r\n")
	}
	r := bufio.NewReader(&buf)
	for i := 0; i < 16; i++ {
		args, err := ReadCommand(r)
		require.NoError(t, err)
		require.Equal(t, []string{"PING"}, args)
	}
}

func TestReadCommandInvalidMultibulkLength(t *testing.T) {
	r := bufio.NewReader(strings("*x\r\n"))
	_, err := ReadCommand(r)
	require.Error(t, err)
}

func TestWriteReplies(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, Simple("OK").WriteTo(w))
	require.NoError(t, Err("WRONGTYPE bad").WriteTo(w))
	require.NoError(t, Int(42).WriteTo(w))
	require.NoError(t, BulkString("hi").WriteTo(w))
	require.NoError(t, NilBulk().WriteTo(w))
	require.NoError(t, StringArray([]string{"a", "b"}).WriteTo(w))
	require.NoError(t, NilArray().WriteTo(w))
	require.NoError(t, w.Flush())

	require.Equal(t,
		"+OK\r\n-WRONGTYPE bad\r\n:42\r\n$2\r\nhi\r\n$-1\r\n*2\r\n$1\r\na\r\n$1\r\nb\r\n*-1\r\n",
		buf.String(),
	)
}

func strings(s string) *bytes.Reader {
	return bytes.NewReader([]byte(s))
}
