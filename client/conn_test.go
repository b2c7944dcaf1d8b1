package client_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/dgramfs/client"
	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
	"github.com/luma/dgramfs/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func makeServer() *transport.UDP {
	store := storage.NewInmemoryStore()

	_, err := storage.Seed(context.Background(), store, storage.DefaultSeed, time.Now())
	Expect(err).To(Succeed())

	udp := transport.NewUDP(transport.Options{
		Host:  "127.0.0.1",
		Store: store,
		Log:   zap.NewNop(),
	})

	Expect(udp.Start(context.Background())).To(Succeed())
	return udp
}

func connect(addr net.Addr, options client.Options) *client.Conn {
	c := client.New(options)
	Expect(c.Connect(context.Background(), addr.String())).To(Succeed())
	return c
}

// blackHole accepts datagrams and never answers.
func blackHole() net.PacketConn {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	Expect(err).To(Succeed())
	return conn
}

var _ = Describe("client", func() {
	var (
		ctx   = context.Background()
		clock *fakeClock
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Unix(1700000000, 0)}
	})

	Describe("against a server", func() {
		var (
			udp *transport.UDP
			c   *client.Conn
		)

		BeforeEach(func() {
			udp = makeServer()
			c = connect(udp.Addr(), client.Options{
				Timeout:     time.Second,
				MaxAttempts: 3,
				Freshness:   10 * time.Second,
				Now:         clock.Now,
			})
		})

		AfterEach(func() {
			Expect(c.Disconnect()).To(Succeed())
			Expect(transport.CloseAll(udp, udp.Store())).To(Succeed())
		})

		It("reads a slice of a file", func() {
			result, err := c.Read(ctx, "file1", 0, 5)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: "Hello"}))
		})

		It("reads nothing from an empty file", func() {
			result, err := c.Read(ctx, "file3", 0, 10)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: ""}))
		})

		It("reads nothing at the end of a file", func() {
			result, err := c.Read(ctx, "file1", 11, 5)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: ""}))

			result, err = c.Read(ctx, "file1", 11, 5)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: "", Cached: true}))
		})

		It("serves repeated reads from the cache while they are fresh", func() {
			_, err := c.Read(ctx, "file2", 0, 11)
			Expect(err).To(Succeed())

			result, err := c.Read(ctx, "file2", 0, 11)
			Expect(err).To(Succeed())
			Expect(result.Cached).To(BeTrue())
			Expect(result.Value).To(Equal("Distributed"))

			clock.Advance(10 * time.Second)

			result, err = c.Read(ctx, "file2", 0, 11)
			Expect(err).To(Succeed())
			Expect(result.Cached).To(BeFalse())
		})

		It("caches reads of different ranges separately", func() {
			_, err := c.Read(ctx, "file1", 0, 5)
			Expect(err).To(Succeed())

			result, err := c.Read(ctx, "file1", 6, 5)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: "World"}))
		})

		It("does not invalidate the cache on its own writes", func() {
			_, err := c.Read(ctx, "file1", 0, 5)
			Expect(err).To(Succeed())

			msg, err := c.Insert(ctx, "file1", 0, "Oh ")
			Expect(err).To(Succeed())
			Expect(msg).To(Equal(protocol.MsgInsertOk))

			result, err := c.Read(ctx, "file1", 0, 5)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: "Hello", Cached: true}))

			clock.Advance(time.Minute)

			result, err = c.Read(ctx, "file1", 0, 5)
			Expect(err).To(Succeed())
			Expect(result).To(Equal(client.Result{Value: "Oh He"}))
		})

		It("gets and caches file info", func() {
			result, err := c.GetInfo(ctx, "file3")
			Expect(err).To(Succeed())
			Expect(result.Value).To(HavePrefix("Name: file3, Size: 0 bytes"))

			result, err = c.GetInfo(ctx, "file3")
			Expect(err).To(Succeed())
			Expect(result.Cached).To(BeTrue())
		})

		It("appends to a file", func() {
			msg, err := c.Append(ctx, "file3", "abc")
			Expect(err).To(Succeed())
			Expect(msg).To(Equal(protocol.MsgAppendOk))

			result, err := c.Read(ctx, "file3", 0, 10)
			Expect(err).To(Succeed())
			Expect(result.Value).To(Equal("abc"))
		})

		It("returns error replies as server errors", func() {
			_, err := c.Read(ctx, "missing", 0, 5)

			var serverErr *protocol.ServerError
			Expect(errors.As(err, &serverErr)).To(BeTrue())
			Expect(serverErr.Message).To(Equal("File does not exist."))

			_, err = c.Insert(ctx, "file1", 100, "x")
			Expect(errors.As(err, &serverErr)).To(BeTrue())
			Expect(serverErr.Message).To(ContainSubstring("Offset provided exceeds the current file length"))
		})

		It("does not cache error replies", func() {
			_, err := c.GetInfo(ctx, "later")
			Expect(err).To(HaveOccurred())

			Expect(udp.Store().Write(ctx, "later", storage.NewRecord("later", "x", time.Now()))).To(Succeed())

			result, err := c.GetInfo(ctx, "later")
			Expect(err).To(Succeed())
			Expect(result.Cached).To(BeFalse())
		})

		Describe("Monitor()", func() {
			It("delivers updates until the interval is over", func() {
				watcher := connect(udp.Addr(), client.Options{Timeout: time.Second, MaxAttempts: 3, Now: clock.Now})
				defer watcher.Disconnect()

				updates, err := watcher.Monitor(ctx, "file1", time.Second)
				Expect(err).To(Succeed())

				_, err = c.Append(ctx, "file1", "!")
				Expect(err).To(Succeed())

				var update *client.Update
				Eventually(updates).Should(Receive(&update))
				Expect(update.Name).To(Equal("file1"))
				Expect(update.Content).To(Equal("Hello World!"))

				Eventually(updates, 3*time.Second).Should(BeClosed())

				// The update was written into the watcher's cache
				result, err := watcher.Read(ctx, "file1", 0, 12)
				Expect(err).To(Succeed())
				Expect(result).To(Equal(client.Result{Value: "Hello World!", Cached: true}))
			})

			It("stops when the context is cancelled", func() {
				watcher := connect(udp.Addr(), client.Options{Timeout: time.Second, MaxAttempts: 3})
				defer watcher.Disconnect()

				monitorCtx, cancel := context.WithCancel(ctx)
				updates, err := watcher.Monitor(monitorCtx, "file1", time.Minute)
				Expect(err).To(Succeed())

				cancel()
				Eventually(updates).Should(BeClosed())

				// The connection is free for calls again
				result, err := watcher.Read(ctx, "file1", 0, 5)
				Expect(err).To(Succeed())
				Expect(result.Value).To(Equal("Hello"))
			})
		})
	})

	Describe("retries", func() {
		var hole net.PacketConn

		BeforeEach(func() {
			hole = blackHole()
		})

		AfterEach(func() {
			hole.Close()
		})

		It("resends the identical request and gives up after MaxAttempts", func() {
			c := connect(hole.LocalAddr(), client.Options{Timeout: 50 * time.Millisecond, MaxAttempts: 2})
			defer c.Disconnect()

			_, err := c.Append(ctx, "file1", "x")
			Expect(err).To(MatchError(client.ErrNoReply))

			buf := make([]byte, transport.MaxDatagramSize)
			received := make([][]byte, 0, 2)

			for i := 0; i < 2; i++ {
				Expect(hole.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
				n, _, err := hole.ReadFrom(buf)
				Expect(err).To(Succeed())
				received = append(received, append([]byte(nil), buf[:n]...))
			}

			Expect(received[1]).To(Equal(received[0]))

			req, err := protocol.ParseRequest(received[0])
			Expect(err).To(Succeed())
			Expect(req.Op).To(Equal(protocol.OpAppend))
			Expect(req.ID.Seq).To(Equal(uint32(1)))
		})

		It("uses a new request ID for every call", func() {
			c := connect(hole.LocalAddr(), client.Options{Timeout: 20 * time.Millisecond, MaxAttempts: 1})
			defer c.Disconnect()

			_, err := c.GetInfo(ctx, "file1")
			Expect(err).To(MatchError(client.ErrNoReply))
			_, err = c.GetInfo(ctx, "file1")
			Expect(err).To(MatchError(client.ErrNoReply))

			buf := make([]byte, transport.MaxDatagramSize)
			ids := make([]protocol.RequestID, 0, 2)

			for i := 0; i < 2; i++ {
				Expect(hole.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
				n, _, err := hole.ReadFrom(buf)
				Expect(err).To(Succeed())

				id, err := protocol.ParseRequestID(buf[:n])
				Expect(err).To(Succeed())
				ids = append(ids, id)
			}

			Expect(ids[0].Token).To(Equal(ids[1].Token))
			Expect(ids[1].Seq).To(Equal(ids[0].Seq + 1))
		})

		It("keeps resending until the context is done when attempts are unbounded", func() {
			c := connect(hole.LocalAddr(), client.Options{Timeout: 20 * time.Millisecond})
			defer c.Disconnect()

			callCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			defer cancel()

			_, err := c.Read(callCtx, "file1", 0, 5)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("loses every request when the drop rate is 1", func() {
			udp := makeServer()
			defer transport.CloseAll(udp, udp.Store())

			c := connect(udp.Addr(), client.Options{Timeout: 20 * time.Millisecond, MaxAttempts: 3, DropRate: 1})
			defer c.Disconnect()

			_, err := c.Read(ctx, "file1", 0, 5)
			Expect(err).To(MatchError(client.ErrNoReply))
		})
	})

	It("fails calls before Connect", func() {
		c := client.New(client.Options{})

		_, err := c.Read(ctx, "file1", 0, 5)
		Expect(err).To(MatchError(client.ErrNotConnected))
		Expect(c.Disconnect()).To(MatchError(client.ErrNotConnected))
	})
})
