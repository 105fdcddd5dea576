package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixxson/kidcode2/internal/domain"
	"github.com/mixxson/kidcode2/internal/dto"
	"github.com/mixxson/kidcode2/internal/syncclient"
)

func (s *testStack) client(t *testing.T, token string, tweak func(*syncclient.Config)) *syncclient.Client {
	t.Helper()
	cfg := syncclient.NewConfig(s.srv.URL, token)
	cfg.HandshakeTimeout = 2 * time.Second
	if tweak != nil {
		tweak(&cfg)
	}
	c, err := syncclient.New(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func joinAndWait(t *testing.T, c *syncclient.Client, roomID uint) (syncclient.JoinResult, <-chan syncclient.JoinResult) {
	t.Helper()
	results := make(chan syncclient.JoinResult, 4)
	c.JoinRoom(roomID, func(r syncclient.JoinResult) { results <- r })
	select {
	case r := <-results:
		require.Empty(t, r.Err)
		return r, results
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out joining room %d", roomID)
	}
	return syncclient.JoinResult{}, results
}

// codeRecorder 收集某个客户端收到的远端代码更新
type codeRecorder struct {
	ch chan syncclient.CodeUpdate
}

func recordCode(c *syncclient.Client, echo bool) *codeRecorder {
	r := &codeRecorder{ch: make(chan syncclient.CodeUpdate, 16)}
	c.OnCodeUpdate(func(u syncclient.CodeUpdate) {
		if echo {
			// 模拟编辑器：写入缓冲区会触发自己的变更事件
			c.SendCodeUpdate(u.RoomID, u.Code, u.Language)
		}
		r.ch <- u
	})
	return r
}

func (r *codeRecorder) next(t *testing.T, within time.Duration) syncclient.CodeUpdate {
	t.Helper()
	select {
	case u := <-r.ch:
		return u
	case <-time.After(within):
		t.Fatal("timed out waiting for code update")
	}
	return syncclient.CodeUpdate{}
}

func (r *codeRecorder) assertNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case u := <-r.ch:
		t.Fatalf("unexpected code update %+v", u)
	case <-time.After(within):
	}
}

func TestEndToEnd_TeacherAndStudentSession(t *testing.T) {
	s := newTestStack(t, nil, nil)
	s.register(t, "admin", "")
	teacherToken, teacher := s.register(t, "pani.ania", domain.RoleTeacher)
	studentToken, student := s.register(t, "janek", domain.RoleStudent)
	require.Equal(t, domain.RoleTeacher, teacher.Role)
	require.Equal(t, domain.RoleStudent, student.Role)

	room := s.createRoom(t, teacherToken, student.ID, domain.LanguageJavaScript)
	assert.Equal(t, "", room.Code)

	tc := s.client(t, teacherToken, nil)
	sc := s.client(t, studentToken, nil)
	require.NoError(t, tc.Connect(context.Background()))
	require.NoError(t, sc.Connect(context.Background()))

	memberEvents := make(chan syncclient.MemberEvent, 4)
	tc.OnMemberEvent(func(e syncclient.MemberEvent) { memberEvents <- e })
	joinAndWait(t, tc, room.ID)

	// 场景 1：学生加入，拿到空代码和 javascript
	joined, _ := joinAndWait(t, sc, room.ID)
	require.NotNil(t, joined.Code)
	assert.Equal(t, "", *joined.Code)
	assert.Equal(t, domain.LanguageJavaScript, joined.Language)
	assert.Len(t, joined.Members, 2)

	select {
	case e := <-memberEvents:
		assert.Equal(t, dto.TypeMemberJoined, e.Type)
		assert.Equal(t, student.ID, e.Member.UserID)
	case <-time.After(time.Second):
		t.Fatal("teacher did not see the student join")
	}

	// 场景 2：学生输入，老师收到，学生自己收不到；老师的编辑器回声不会反弹
	teacherSees := recordCode(tc, true)
	studentSees := recordCode(sc, true)
	sc.SendCodeUpdate(room.ID, "console.log(1)", "")

	u := teacherSees.next(t, 2*time.Second)
	assert.Equal(t, "console.log(1)", u.Code)
	assert.Equal(t, domain.LanguageJavaScript, u.Language)
	assert.Equal(t, student.ID, u.UserID)
	studentSees.assertNone(t, syncclient.DefaultRemoteSuppressWindow+300*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, err := s.rooms.FindByID(context.Background(), room.ID)
		return err == nil && stored.Code == "console.log(1)"
	}, 2*time.Second, 10*time.Millisecond)

	// 场景 3：老师切换到 python，双方在防抖之前收敛到占位代码
	start := time.Now()
	placeholder, err := tc.SwitchLanguage(room.ID, domain.LanguagePython)
	require.NoError(t, err)
	u = studentSees.next(t, time.Second)
	assert.Less(t, time.Since(start), syncclient.DefaultSendDebounce)
	assert.Equal(t, placeholder, u.Code)
	assert.Equal(t, domain.LanguagePython, u.Language)
	assert.Equal(t, domain.LanguagePython.Placeholder(), placeholder)
	teacherSees.assertNone(t, syncclient.DefaultRemoteSuppressWindow+300*time.Millisecond)

	require.Eventually(t, func() bool {
		stored, err := s.rooms.FindByID(context.Background(), room.ID)
		return err == nil && stored.Language == domain.LanguagePython && stored.Code == placeholder
	}, 2*time.Second, 10*time.Millisecond)
}

// flakyDialer 可以模拟网络中断：drop 关闭当前连接，并在 restore 之前拒绝拨号
type flakyDialer struct {
	inner   syncclient.WebsocketDialer
	blocked atomic.Bool
	mu      sync.Mutex
	last    syncclient.Conn
}

func (d *flakyDialer) Dial(ctx context.Context, endpoint string) (syncclient.Conn, error) {
	if d.blocked.Load() {
		return nil, errors.New("network is unreachable")
	}
	conn, err := d.inner.Dial(ctx, endpoint)
	if err == nil {
		d.mu.Lock()
		d.last = conn
		d.mu.Unlock()
	}
	return conn, err
}

func (d *flakyDialer) drop() {
	d.blocked.Store(true)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last != nil {
		_ = d.last.Close()
	}
}

func (d *flakyDialer) restore() { d.blocked.Store(false) }

func TestEndToEnd_StudentNetworkDrop(t *testing.T) {
	s := newTestStack(t, nil, nil)
	s.register(t, "admin", "")
	teacherToken, _ := s.register(t, "pani.ania", domain.RoleTeacher)
	studentToken, student := s.register(t, "janek", domain.RoleStudent)
	room := s.createRoom(t, teacherToken, student.ID, domain.LanguageJavaScript)

	dialer := &flakyDialer{}
	tc := s.client(t, teacherToken, nil)
	sc := s.client(t, studentToken, func(cfg *syncclient.Config) {
		cfg.Dialer = dialer
		cfg.SendDebounce = 50 * time.Millisecond
		cfg.RemoteSuppressWindow = 100 * time.Millisecond
		cfg.ReconnectInitial = 100 * time.Millisecond
		cfg.ReconnectMax = 200 * time.Millisecond
		cfg.MaxReconnectAttempts = 20
	})
	require.NoError(t, tc.Connect(context.Background()))
	require.NoError(t, sc.Connect(context.Background()))

	var mu sync.Mutex
	var studentEvents []string
	tc.OnMemberEvent(func(e syncclient.MemberEvent) {
		if e.Member.UserID == student.ID {
			mu.Lock()
			studentEvents = append(studentEvents, e.Type)
			mu.Unlock()
		}
	})
	teacherSees := recordCode(tc, true)
	joinAndWait(t, tc, room.ID)
	_, studentJoins := joinAndWait(t, sc, room.ID)

	dialer.drop()
	require.Eventually(t, func() bool { return sc.Status().Reconnecting }, 2*time.Second, 5*time.Millisecond)

	// 断网期间继续编辑，编辑不会阻塞
	sc.SendCodeUpdate(room.ID, "console.log('offline')", "")
	sc.SendCodeUpdate(room.ID, "console.log('offline work')", "")
	teacherSees.assertNone(t, 400*time.Millisecond)

	dialer.restore()
	u := teacherSees.next(t, 3*time.Second)
	assert.Equal(t, "console.log('offline work')", u.Code)
	assert.Equal(t, student.ID, u.UserID)

	select {
	case r := <-studentJoins:
		assert.True(t, r.Resent)
		assert.Nil(t, r.Code)
	case <-time.After(time.Second):
		t.Fatal("student did not rejoin")
	}
	assert.True(t, sc.Status().Connected)

	require.Eventually(t, func() bool {
		stored, err := s.rooms.FindByID(context.Background(), room.ID)
		return err == nil && stored.Code == "console.log('offline work')"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{dto.TypeMemberJoined, dto.TypeMemberLeft, dto.TypeMemberJoined}, studentEvents)
	assert.Len(t, s.core.Hub.RoomMembers(room.ID), 2)
}

func TestEndToEnd_RejectedCredentials(t *testing.T) {
	s := newTestStack(t, nil, nil)

	for _, tc := range []struct {
		name   string
		token  string
		reason string
	}{
		{name: "no token", token: "", reason: "NO_CREDENTIAL"},
		{name: "garbage token", token: "not-a-jwt", reason: "MALFORMED_CREDENTIAL"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := s.client(t, tc.token, nil)
			err := c.Connect(context.Background())
			var rejected *syncclient.RejectedError
			require.ErrorAs(t, err, &rejected)
			assert.Equal(t, tc.reason, rejected.Reason)
			assert.False(t, c.Status().Reconnecting)
		})
	}

	// 已签名但用户不存在
	token, err := s.core.AuthService.GenerateToken(999)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg dto.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, dto.TypeConnectError, msg.Type)
	assert.Equal(t, "UNKNOWN_SUBJECT", msg.Reason)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, dto.CloseAuthRejected), "expected close code 4401, got %v", err)
}

func TestEndToEnd_JoinForbiddenForOtherStudents(t *testing.T) {
	s := newTestStack(t, nil, nil)
	s.register(t, "admin", "")
	teacherToken, _ := s.register(t, "pani.ania", domain.RoleTeacher)
	_, student := s.register(t, "janek", domain.RoleStudent)
	otherToken, _ := s.register(t, "zosia", domain.RoleStudent)
	room := s.createRoom(t, teacherToken, student.ID, domain.LanguageJavaScript)

	c := s.client(t, otherToken, nil)
	require.NoError(t, c.Connect(context.Background()))
	results := make(chan syncclient.JoinResult, 1)
	c.JoinRoom(room.ID, func(r syncclient.JoinResult) { results <- r })

	select {
	case r := <-results:
		assert.Equal(t, dto.ReasonForbidden, r.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no join reply")
	}
	assert.Empty(t, s.core.Hub.RoomMembers(room.ID))
}

func TestEndToEnd_ServerShutdownNotifiesClients(t *testing.T) {
	s := newTestStack(t, nil, nil)
	token, _ := s.register(t, "admin", "")
	c := s.client(t, token, func(cfg *syncclient.Config) {
		cfg.ReconnectInitial = 50 * time.Millisecond
		cfg.ReconnectMax = 50 * time.Millisecond
		cfg.MaxReconnectAttempts = 2
	})
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return s.core.Hub.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.core.Hub.Stop(ctx))

	// Hub 停止后握手仍可升级，但注册失败，客户端最终放弃
	require.Eventually(t, func() bool { return c.Status().GaveUp }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, syncclient.ErrGaveUp.Error(), c.Status().LastError)

	status, _ := s.do(t, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, status)
}
