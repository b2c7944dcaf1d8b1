package transport_test

import (
	"context"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
	"github.com/luma/dgramfs/transport"
)

func makeUDPServer(semantics protocol.Semantics) *transport.UDP {
	store := storage.NewInmemoryStore()

	_, err := storage.Seed(context.Background(), store, storage.DefaultSeed, time.Now())
	Expect(err).To(Succeed())

	udp := transport.NewUDP(transport.Options{
		Host:      "127.0.0.1",
		Port:      0,
		Semantics: semantics,
		Store:     store,
		Log:       zap.NewNop(),
	})

	Expect(udp.Start(context.Background())).To(Succeed())
	return udp
}

func dial(udp *transport.UDP) *net.UDPConn {
	conn, err := net.DialUDP("udp", nil, udp.Addr().(*net.UDPAddr))
	Expect(err).To(Succeed())
	return conn
}

func roundTrip(conn *net.UDPConn, datagram []byte) []byte {
	_, err := conn.Write(datagram)
	Expect(err).To(Succeed())

	return receive(conn)
}

func receive(conn *net.UDPConn) []byte {
	buf := make([]byte, transport.MaxDatagramSize)

	Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
	n, err := conn.Read(buf)
	Expect(err).To(Succeed())

	return buf[:n]
}

var _ = Describe("transport / UDP", func() {
	var (
		udp  *transport.UDP
		conn *net.UDPConn
		seq  uint32
	)

	nextID := func() protocol.RequestID {
		seq++
		return protocol.RequestID{Token: "udp-test", Seq: seq}
	}

	marshal := func(req *protocol.Request) []byte {
		data, err := req.Marshal()
		Expect(err).To(Succeed())
		return data
	}

	BeforeEach(func() {
		udp = makeUDPServer(protocol.AtMostOnce)
		conn = dial(udp)
	})

	AfterEach(func() {
		conn.Close()
		Expect(transport.CloseAll(udp, udp.Store())).To(Succeed())
	})

	It("answers a request on the bound port", func() {
		resp := roundTrip(conn, marshal(protocol.NewReadRequest(nextID(), "file1", 0, 5)))
		Expect(string(resp)).To(Equal("Hello"))
	})

	It("keeps serving after a malformed datagram", func() {
		resp := roundTrip(conn, []byte("garbage"))
		Expect(string(resp)).To(HavePrefix(string(protocol.PrefixErr)))

		resp = roundTrip(conn, marshal(protocol.NewGetInfoRequest(nextID(), "file2")))
		Expect(string(resp)).To(HavePrefix("Name: file2, Size: 19 bytes"))
	})

	It("replays a retransmitted request instead of running it again", func() {
		datagram := marshal(protocol.NewAppendRequest(nextID(), "file3", "x"))

		first := roundTrip(conn, datagram)
		second := roundTrip(conn, datagram)
		Expect(second).To(Equal(first))

		resp := roundTrip(conn, marshal(protocol.NewReadRequest(nextID(), "file3", 0, 10)))
		Expect(string(resp)).To(Equal("x"))
	})

	It("pushes updates to a monitoring client", func() {
		watcher := dial(udp)
		defer watcher.Close()

		resp := roundTrip(watcher, marshal(protocol.NewMonitorRequest(
			protocol.RequestID{Token: "watcher", Seq: 1}, "file1", 10*time.Second)))
		Expect(string(resp)).To(Equal(protocol.MsgMonitorOk))

		resp = roundTrip(conn, marshal(protocol.NewAppendRequest(nextID(), "file1", "!")))
		Expect(string(resp)).To(Equal(protocol.MsgAppendOk))

		update, err := protocol.ParseResponse(receive(watcher))
		Expect(err).To(Succeed())
		Expect(update.Type).To(Equal(protocol.RespUpdate))
		Expect(update.Record.Name).To(Equal("file1"))
		Expect(update.Record.Content).To(Equal("Hello World!"))
	})

	It("cannot be closed before it is started", func() {
		unstarted := transport.NewUDP(transport.Options{Store: storage.NewInmemoryStore()})
		Expect(unstarted.Close()).To(MatchError(transport.ErrNotStarted))
	})
})
