package env_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/velocystream/internal/env"
	"github.com/luma/velocystream/protocol"
)

var _ = Describe("LoadConfig", func() {
	var (
		ctx     context.Context
		dir     string
		cleanup []func()
	)

	setenv := func(key, value string) {
		old, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())

		cleanup = append(cleanup, func() {
			if had {
				os.Setenv(key, old)
			} else {
				os.Unsetenv(key)
			}
		})
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dir, err = os.MkdirTemp("", "vst-config")
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		for _, f := range cleanup {
			f()
		}
		cleanup = nil

		os.RemoveAll(dir)
	})

	It("falls back to the defaults", func() {
		conf, err := env.LoadConfig(ctx, "")
		Expect(err).To(Succeed())

		version, err := conf.ProtocolVersion()
		Expect(err).To(Succeed())
		Expect(version).To(Equal(protocol.VersionCurrent))

		Expect(conf.Limits()).To(Equal(protocol.DefaultLimits()))
		Expect(conf.IdleTimeout.Duration).To(Equal(time.Minute))
		Expect(conf.LogLevel).To(Equal("info"))
	})

	It("reads the environment", func() {
		setenv("VST_PROTOCOL_VERSION", "1.0")
		setenv("VST_MAX_CHUNK_BYTES", "1024")
		setenv("VST_IDLE_TIMEOUT", "5s")

		conf, err := env.LoadConfig(ctx, "")
		Expect(err).To(Succeed())

		version, err := conf.ProtocolVersion()
		Expect(err).To(Succeed())
		Expect(version).To(Equal(protocol.VersionLegacy))
		Expect(conf.MaxChunkBytes).To(Equal(1024))
		Expect(conf.IdleTimeout.Duration).To(Equal(5 * time.Second))
	})

	It("lets the config file override the environment", func() {
		setenv("VST_MAX_CHUNK_BYTES", "1024")
		setenv("VST_REGION", "eu")

		path := filepath.Join(dir, "vst.toml")
		Expect(os.WriteFile(path, []byte("max_chunk_bytes = 2048\nidle_timeout = \"2m\"\n"), 0600)).To(Succeed())

		conf, err := env.LoadConfig(ctx, path)
		Expect(err).To(Succeed())
		Expect(conf.MaxChunkBytes).To(Equal(2048))
		Expect(conf.IdleTimeout.Duration).To(Equal(2 * time.Minute))
		Expect(conf.Region).To(Equal("eu"))
		Expect(conf.ConfigFile).To(Equal(path))
	})

	It("rejects unknown protocol versions", func() {
		setenv("VST_PROTOCOL_VERSION", "2.0")

		_, err := env.LoadConfig(ctx, "")
		Expect(err).To(MatchError(ContainSubstring("unknown VelocyStream version")))
	})

	It("rejects chunks too small for a header", func() {
		setenv("VST_MAX_CHUNK_BYTES", "24")

		_, err := env.LoadConfig(ctx, "")
		Expect(err).To(MatchError(protocol.ErrChunkSizeTooSmall))
	})

	It("rejects chunks larger than the 32 bit length field", func() {
		setenv("VST_MAX_CHUNK_BYTES", "4294967396")

		_, err := env.LoadConfig(ctx, "")
		Expect(err).To(MatchError(protocol.ErrChunkSizeTooLarge))
	})

	It("reports a missing config file", func() {
		_, err := env.LoadConfig(ctx, filepath.Join(dir, "missing.toml"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("MakeLogger", func() {
	It("accepts zap level names", func() {
		log, err := env.MakeLogger("debug")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(-1)).To(BeTrue())
	})

	It("rejects unknown levels", func() {
		_, err := env.MakeLogger("chatty")
		Expect(err).To(HaveOccurred())
	})
})
