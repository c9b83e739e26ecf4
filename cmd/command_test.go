package cmd

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("readConfigArg()", func() {
	It("returns inline JSON as is", func() {
		raw, err := readConfigArg(`{"logging_ret":"1m"}`)

		Expect(err).To(Succeed())
		Expect(string(raw)).To(Equal(`{"logging_ret":"1m"}`))
	})

	It("reads @path from a file", func() {
		dir, err := os.MkdirTemp("", "gwlink")
		Expect(err).To(Succeed())
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "server.json")
		Expect(os.WriteFile(path, []byte(`{"protocol":"mqtt"}`), 0o600)).To(Succeed())

		raw, err := readConfigArg("@" + path)

		Expect(err).To(Succeed())
		Expect(string(raw)).To(Equal(`{"protocol":"mqtt"}`))
	})

	It("fails when the file is missing", func() {
		_, err := readConfigArg("@/does/not/exist.json")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("pretty()", func() {
	It("indents a response", func() {
		Expect(pretty([]byte(`{"status":"ok"}`))).To(Equal("{\n  \"status\": \"ok\"\n}\n"))
	})
})
