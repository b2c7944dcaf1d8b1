package env_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/dgramfs/internal/env"
)

var _ = Describe("env", func() {
	Describe("LoadConfig()", func() {
		AfterEach(func() {
			os.Unsetenv("DGRAMFS_SEMANTICS")
			os.Unsetenv("DGRAMFS_FRESHNESS")
			os.Unsetenv("DGRAMFS_S3_BUCKET")
		})

		It("falls back to the defaults", func() {
			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.Semantics).To(Equal("at-most-once"))
			Expect(conf.Storage).To(Equal("memory"))
			Expect(conf.HistoryRetention).To(Equal(24 * time.Hour))
			Expect(conf.Timeout).To(Equal(5 * time.Second))
			Expect(conf.MaxAttempts).To(Equal(5))
		})

		It("reads the environment", func() {
			os.Setenv("DGRAMFS_SEMANTICS", "at-least-once")
			os.Setenv("DGRAMFS_FRESHNESS", "30s")
			os.Setenv("DGRAMFS_S3_BUCKET", "files")

			conf, err := env.LoadConfig(context.Background())
			Expect(err).To(Succeed())

			Expect(conf.Semantics).To(Equal("at-least-once"))
			Expect(conf.Freshness).To(Equal(30 * time.Second))
			Expect(conf.S3.Bucket).To(Equal("files"))
		})
	})

	Describe("MakeLogger()", func() {
		It("accepts a known level", func() {
			log, err := env.MakeLogger("debug")
			Expect(err).To(Succeed())
			Expect(log).ToNot(BeNil())
		})

		It("rejects an unknown level", func() {
			_, err := env.MakeLogger("loud")
			Expect(err).To(HaveOccurred())
		})
	})
})
