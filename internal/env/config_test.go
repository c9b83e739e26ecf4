package env_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/gwlink/internal/env"
)

var _ = Describe("LoadConfig()", func() {
	AfterEach(func() {
		os.Unsetenv("GWLINK_FRAGMENT_DELAY")
		os.Unsetenv("GWLINK_TRANSPORT")
	})

	It("applies defaults", func() {
		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		Expect(conf.Transport).To(Equal("tcp"))
		Expect(conf.FragmentSize).To(Equal(18))
		Expect(conf.SettleDelay).To(Equal(2 * time.Second))
	})

	It("reads overrides from the environment", func() {
		os.Setenv("GWLINK_FRAGMENT_DELAY", "250ms")
		os.Setenv("GWLINK_TRANSPORT", "mqtt")

		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		Expect(conf.FragmentDelay).To(Equal(250 * time.Millisecond))
		Expect(conf.Transport).To(Equal("mqtt"))
	})

	It("maps onto session options", func() {
		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		opts := conf.SessionOptions()
		Expect(opts.FragmentSize).To(Equal(18))
		Expect(opts.FragmentDelay).To(Equal(100 * time.Millisecond))
		Expect(opts.MaxMessageSize).To(Equal(4096))
		Expect(opts.AutoCorrelate).To(ConsistOf("device_id"))
	})
})

var _ = Describe("MakeLogger()", func() {
	It("parses the level", func() {
		log, err := env.MakeLogger("warn")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(zap.InfoLevel)).To(BeFalse())
		Expect(log.Core().Enabled(zap.WarnLevel)).To(BeTrue())
	})

	It("rejects unknown levels", func() {
		_, err := env.MakeLogger("loud")
		Expect(err).To(HaveOccurred())
	})
})
