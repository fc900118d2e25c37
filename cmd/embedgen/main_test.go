package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out bytes.Buffer
	code := run(context.Background(), args, &out)
	return code, out.String()
}

func TestRun_WrongArgumentCount(t *testing.T) {
	for _, args := range [][]string{
		nil,
		{"only.so"},
		{"a.so", "b.h", "c"},
		{"--help"},
		{"-h"},
		{"-h", "a", "b"},
		{"a", "b", "--help"},
		{"--", "a.so"},
	} {
		code, out := runCLI(t, args...)
		assert.Equal(t, 1, code, "%v", args)
		assert.Equal(t, usage+"\n", out, "%v", args)
	}
}

func TestRun_UnknownFlagPrintsUsage(t *testing.T) {
	code, out := runCLI(t, "--bogus", "a.so", "b.h")
	assert.Equal(t, 1, code)
	assert.Equal(t, usage+"\n", out)
}

func TestRun_DashPrefixedPaths(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile("-lib.so", []byte{0xab}, 0o644))

	code, out := runCLI(t, "-lib.so", "out.h")
	require.Equal(t, 0, code, out)
	got, err := os.ReadFile("out.h")
	require.NoError(t, err)
	assert.Contains(t, string(got), "    0xab\n")

	code, out = runCLI(t, "--per-line", "4", "--", "-lib.so", "-out.h")
	require.Equal(t, 0, code, out)
	assert.Equal(t,
		"Generated embedded library header: -out.h\nOriginal library size: 1 bytes\n",
		out)
	_, err = os.Stat("-out.h")
	assert.NoError(t, err)
}

func TestRun_EmptyInput(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.h")

	code, out := runCLI(t, "", outPath)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error:  does not exist\n", out)

	_, err := os.Stat(outPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_MissingInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "nonexistent.so")
	outPath := filepath.Join(dir, "out.h")

	code, out := runCLI(t, in, outPath)
	assert.Equal(t, 1, code)
	assert.Equal(t, "Error: "+in+" does not exist\n", out)

	_, err := os.Stat(outPath)
	assert.True(t, os.IsNotExist(err), "no output file may be created")
}

func TestRun_GeneratesHeader(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	outPath := filepath.Join(dir, "out.h")
	require.NoError(t, os.WriteFile(in, []byte{0x7f, 0x45, 0x4c, 0x46}, 0o644))

	code, out := runCLI(t, in, outPath)
	require.Equal(t, 0, code, out)
	assert.Equal(t,
		"Generated embedded library header: "+outPath+"\nOriginal library size: 4 bytes\n",
		out)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	want := "#ifndef INTERCEPTOR_EMBEDDED_H\n" +
		"#define INTERCEPTOR_EMBEDDED_H\n\n" +
		"#include <cstddef>\n\n" +
		"namespace EmbeddedInterceptor {\n\n" +
		"// Size of the embedded interceptor library\n" +
		"const size_t INTERCEPTOR_SIZE = 4;\n\n" +
		"// Embedded interceptor library data\n" +
		"const unsigned char INTERCEPTOR_DATA[] = {\n" +
		"    0x7f, 0x45, 0x4c, 0x46\n" +
		"};\n\n" +
		"} // namespace EmbeddedInterceptor\n\n" +
		"#endif // INTERCEPTOR_EMBEDDED_H\n"
	assert.Equal(t, want, string(got))
}

func TestRun_OverwritesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	outPath := filepath.Join(dir, "out.h")
	require.NoError(t, os.WriteFile(in, []byte{1}, 0o644))
	require.NoError(t, os.WriteFile(outPath, bytes.Repeat([]byte("x"), 4096), 0o644))

	code, _ := runCLI(t, in, outPath)
	require.Equal(t, 0, code)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.NotContains(t, string(got), "xxx")
	assert.Contains(t, string(got), "    0x01\n")
}

func TestRun_HeaderFlags(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	outPath := filepath.Join(dir, "out.h")
	require.NoError(t, os.WriteFile(in, []byte{1, 2, 3}, 0o644))

	code, out := runCLI(t,
		"--guard", "MY_H", "--namespace", "ns", "--size-name", "N", "--data-name", "D",
		"--per-line", "2", "--no-comments", in, outPath)
	require.Equal(t, 0, code, out)

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	s := string(got)
	assert.Contains(t, s, "#ifndef MY_H\n")
	assert.Contains(t, s, "namespace ns {\n")
	assert.Contains(t, s, "const size_t N = 3;\n")
	assert.Contains(t, s, "const unsigned char D[] = {\n    0x01, 0x02,\n    0x03\n};")
	assert.NotContains(t, s, "// Size of the embedded interceptor library")
	assert.NotContains(t, s, "// Embedded interceptor library data")
}

func TestRun_InvalidHeaderFlags(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	outPath := filepath.Join(dir, "out.h")
	require.NoError(t, os.WriteFile(in, []byte{1}, 0o644))

	for _, args := range [][]string{
		{"--guard", "1BAD"},
		{"--namespace", "has space"},
		{"--per-line", "0"},
		{"--log-level", "chatty"},
	} {
		code, out := runCLI(t, append(args, in, outPath)...)
		assert.Equal(t, 1, code, "%v", args)
		assert.Contains(t, out, "Error: ", "%v", args)
	}
	_, err := os.Stat(outPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_InputIsDirectory(t *testing.T) {
	dir := t.TempDir()
	code, out := runCLI(t, dir, filepath.Join(dir, "out.h"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Error: ")
	assert.Contains(t, out, "not a regular file")
}

func TestRun_MissingOutputDirectory(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	require.NoError(t, os.WriteFile(in, []byte{1}, 0o644))

	code, out := runCLI(t, in, filepath.Join(dir, "no", "such", "out.h"))
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Error: ")
}
