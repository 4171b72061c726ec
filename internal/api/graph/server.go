package graph

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/identity"
	"github.com/lvdashuaibi/littlepoker/internal/model"
	"github.com/lvdashuaibi/littlepoker/internal/room"
	"github.com/lvdashuaibi/littlepoker/internal/stats"
	"github.com/lvdashuaibi/littlepoker/internal/store"
	qrcode "github.com/skip2/go-qrcode"
)

// GraphQLServer 表现层边界：把用户意图（进房、投票、亮牌、replay、踢人、离房）
// 转成对房间会话的调用，把订阅快照和评估结果暴露为查询
type GraphQLServer struct {
	schema   *graphql.Schema
	handler  *relay.Handler
	resolver *Resolver
}

const schemaString = `
type Room {
  key: String!
  round: Int!
  revealLocked: Boolean!
  countdownActive: Boolean!
  countdownEndsAt: Float!
  facilitatorId: String!
}

type Player {
  id: String!
  name: String!
  role: String!
  hasVoted: Boolean!
  active: Boolean!
}

type Vote {
  playerId: String!
  value: String!
}

type VoteRow {
  playerId: String!
  name: String!
  value: String!
}

type RevealResult {
  round: Int!
  unanimous: Boolean!
  votes: [VoteRow!]!
  median: Float
  closestIds: [String!]!
}

type Badges {
  lowBidderId: String!
  lowBidderName: String!
  lowBidderAvg: Float!
  zenMasterId: String!
  zenMasterName: String!
  zenRounds: Int!
}

type JoinResponse {
  sessionToken: String!
  playerId: String!
  roomKey: String!
  facilitator: Boolean!
}

type Query {
  # 当前牌组
  deck: [String!]!

  # 房间文档快照
  room(sessionToken: String!): Room

  # 成员列表（含在线标记）
  players(sessionToken: String!): [Player!]!

  # 当前投票集合
  votes(sessionToken: String!): [Vote!]!

  # 本轮亮牌评估结果，未亮牌时为空
  result(sessionToken: String!): RevealResult

  # 房间累计统计徽章
  badges(roomKey: String!): Badges
}

type Mutation {
  # 进房
  join(roomKey: String!, name: String!, role: String!): JoinResponse!

  # 投票（亮牌前可反复改票）
  castVote(sessionToken: String!, value: String!): Boolean!

  # 立即亮牌
  reveal(sessionToken: String!): Boolean!

  # 开新一轮
  replay(sessionToken: String!): Boolean!

  # 踢人
  kick(sessionToken: String!, targetId: String!): Boolean!

  # 离房
  leave(sessionToken: String!): Boolean!
}

schema {
  query: Query
  mutation: Mutation
}
`

// NewGraphQLServer 创建GraphQL服务
func NewGraphQLServer(st store.Store, publisher room.RevealPublisher, statsService *stats.Service) *GraphQLServer {
	resolver := &Resolver{
		store:     st,
		publisher: publisher,
		stats:     statsService,
		registry:  newSessionRegistry(),
	}

	schema := graphql.MustParseSchema(schemaString, resolver,
		graphql.UseFieldResolvers(),
	)

	return &GraphQLServer{
		schema:   schema,
		handler:  &relay.Handler{Schema: schema},
		resolver: resolver,
	}
}

// Start 启动HTTP服务器
func (s *GraphQLServer) Start(port int) error {
	router := gin.Default()

	router.POST(config.AppConfig.GraphQL.Path, gin.WrapH(s.handler))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 房间邀请二维码，扫码进房
	router.GET("/invite/:room", func(c *gin.Context) {
		key := identity.SanitizeRoomKey(c.Param("room"))
		if key == "" {
			c.String(http.StatusBadRequest, "非法的房间号")
			return
		}
		link := fmt.Sprintf("%s/?room=%s", config.AppConfig.Server.PublicURL, key)
		png, err := qrcode.Encode(link, qrcode.Medium, 256)
		if err != nil {
			c.String(http.StatusInternalServerError, "生成二维码失败")
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	router.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(playgroundHTML))
	})

	addr := fmt.Sprintf(":%d", port)
	log.Printf("GraphQL服务已启动，API端点: %s, Playground: http://localhost%s/",
		config.AppConfig.GraphQL.Path, addr)

	return router.Run(addr)
}

// Resolver GraphQL解析器
type Resolver struct {
	store     store.Store
	publisher room.RevealPublisher
	stats     *stats.Service
	registry  *sessionRegistry
}

func (r *Resolver) entry(token string) (*sessionEntry, error) {
	entry, ok := r.registry.get(token)
	if !ok {
		return nil, fmt.Errorf("会话不存在或已结束")
	}
	return entry, nil
}

// Deck 当前牌组
func (r *Resolver) Deck(ctx context.Context) []string {
	return config.AppConfig.Room.Deck
}

// Room 房间文档快照
func (r *Resolver) Room(ctx context.Context, args struct{ SessionToken string }) (*RoomResolver, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return nil, err
	}
	rm, _, _ := entry.session.Snapshot()
	return &RoomResolver{room: rm}, nil
}

// Players 成员列表
func (r *Resolver) Players(ctx context.Context, args struct{ SessionToken string }) ([]*PlayerResolver, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return nil, err
	}

	active := make(map[string]bool)
	for _, p := range entry.session.ActivePlayers() {
		active[p.ID] = true
	}

	_, players, _ := entry.session.Snapshot()
	resolvers := make([]*PlayerResolver, len(players))
	for i, p := range players {
		resolvers[i] = &PlayerResolver{player: p, active: active[p.ID]}
	}
	return resolvers, nil
}

// Votes 当前投票集合。票值在亮牌前对客户端可见，遮挡由前端负责
func (r *Resolver) Votes(ctx context.Context, args struct{ SessionToken string }) ([]*VoteResolver, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return nil, err
	}
	_, _, votes := entry.session.Snapshot()
	resolvers := make([]*VoteResolver, len(votes))
	for i, v := range votes {
		resolvers[i] = &VoteResolver{vote: v}
	}
	return resolvers, nil
}

// Result 本轮亮牌评估结果
func (r *Resolver) Result(ctx context.Context, args struct{ SessionToken string }) (*RevealResultResolver, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return nil, err
	}
	result := entry.result()
	if result == nil {
		return nil, nil
	}
	return &RevealResultResolver{result: *result}, nil
}

// Badges 房间累计统计徽章
func (r *Resolver) Badges(ctx context.Context, args struct{ RoomKey string }) (*BadgesResolver, error) {
	if r.stats == nil {
		return nil, nil
	}
	badges, err := r.stats.Badges(identity.SanitizeRoomKey(args.RoomKey))
	if err != nil {
		return nil, err
	}
	return &BadgesResolver{badges: *badges}, nil
}

// Join 进房
func (r *Resolver) Join(ctx context.Context, args struct {
	RoomKey string
	Name    string
	Role    string
}) (*JoinResponseResolver, error) {
	entry := &sessionEntry{}
	session, err := room.Join(context.Background(), r.store, room.OptionsFromConfig(), r.publisher,
		args.RoomKey, args.Name, model.Role(args.Role), entry.storeResult)
	if err != nil {
		return nil, err
	}
	entry.session = session

	token := r.registry.add(entry)
	return &JoinResponseResolver{
		token:       token,
		playerID:    session.PlayerID(),
		roomKey:     session.RoomKey(),
		facilitator: session.IsFacilitator(),
	}, nil
}

// CastVote 投票
func (r *Resolver) CastVote(ctx context.Context, args struct {
	SessionToken string
	Value        string
}) (bool, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return false, err
	}
	if err := entry.session.CastVote(args.Value); err != nil {
		return false, err
	}
	return true, nil
}

// Reveal 立即亮牌
func (r *Resolver) Reveal(ctx context.Context, args struct{ SessionToken string }) (bool, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return false, err
	}
	if err := entry.session.RequestReveal(); err != nil {
		return false, err
	}
	return true, nil
}

// Replay 开新一轮
func (r *Resolver) Replay(ctx context.Context, args struct{ SessionToken string }) (bool, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return false, err
	}
	if err := entry.session.RequestReplay(); err != nil {
		return false, err
	}
	return true, nil
}

// Kick 踢人
func (r *Resolver) Kick(ctx context.Context, args struct {
	SessionToken string
	TargetId     string
}) (bool, error) {
	entry, err := r.entry(args.SessionToken)
	if err != nil {
		return false, err
	}
	if err := entry.session.Kick(args.TargetId); err != nil {
		return false, err
	}
	return true, nil
}

// Leave 离房
func (r *Resolver) Leave(ctx context.Context, args struct{ SessionToken string }) (bool, error) {
	entry, ok := r.registry.remove(args.SessionToken)
	if !ok {
		return false, fmt.Errorf("会话不存在或已结束")
	}
	entry.session.Leave()
	return true, nil
}

// RoomResolver 房间解析器
type RoomResolver struct {
	room model.Room
}

func (r *RoomResolver) Key() string           { return r.room.Key }
func (r *RoomResolver) Round() int32          { return int32(r.room.Round) }
func (r *RoomResolver) RevealLocked() bool    { return r.room.RevealLocked }
func (r *RoomResolver) CountdownActive() bool { return r.room.CountdownActive }
func (r *RoomResolver) CountdownEndsAt() float64 {
	return float64(r.room.CountdownEndsAt)
}
func (r *RoomResolver) FacilitatorId() string { return r.room.FacilitatorID }

// PlayerResolver 成员解析器
type PlayerResolver struct {
	player model.Participant
	active bool
}

func (r *PlayerResolver) Id() string     { return r.player.ID }
func (r *PlayerResolver) Name() string   { return r.player.Name }
func (r *PlayerResolver) Role() string   { return string(r.player.Role) }
func (r *PlayerResolver) HasVoted() bool { return r.player.HasVoted }
func (r *PlayerResolver) Active() bool   { return r.active }

// VoteResolver 投票解析器
type VoteResolver struct {
	vote model.Vote
}

func (r *VoteResolver) PlayerId() string { return r.vote.PlayerID }
func (r *VoteResolver) Value() string    { return r.vote.Value }

// VoteRowResolver 亮牌结果行解析器
type VoteRowResolver struct {
	row model.VoteRow
}

func (r *VoteRowResolver) PlayerId() string { return r.row.PlayerID }
func (r *VoteRowResolver) Name() string     { return r.row.Name }
func (r *VoteRowResolver) Value() string    { return r.row.Value }

// RevealResultResolver 亮牌结果解析器
type RevealResultResolver struct {
	result model.RevealResult
}

func (r *RevealResultResolver) Round() int32    { return int32(r.result.Round) }
func (r *RevealResultResolver) Unanimous() bool { return r.result.Unanimous }

func (r *RevealResultResolver) Votes() []*VoteRowResolver {
	rows := make([]*VoteRowResolver, len(r.result.Votes))
	for i, row := range r.result.Votes {
		rows[i] = &VoteRowResolver{row: row}
	}
	return rows
}

func (r *RevealResultResolver) Median() *float64 {
	if !r.result.HasMedian {
		return nil
	}
	median := r.result.Median
	return &median
}

func (r *RevealResultResolver) ClosestIds() []string {
	if r.result.ClosestIDs == nil {
		return []string{}
	}
	return r.result.ClosestIDs
}

// BadgesResolver 徽章解析器
type BadgesResolver struct {
	badges model.Badges
}

func (r *BadgesResolver) LowBidderId() string    { return r.badges.LowBidderID }
func (r *BadgesResolver) LowBidderName() string  { return r.badges.LowBidderName }
func (r *BadgesResolver) LowBidderAvg() float64  { return r.badges.LowBidderAvg }
func (r *BadgesResolver) ZenMasterId() string    { return r.badges.ZenMasterID }
func (r *BadgesResolver) ZenMasterName() string  { return r.badges.ZenMasterName }
func (r *BadgesResolver) ZenRounds() int32       { return int32(r.badges.ZenRounds) }

// JoinResponseResolver 进房响应解析器
type JoinResponseResolver struct {
	token       string
	playerID    string
	roomKey     string
	facilitator bool
}

func (r *JoinResponseResolver) SessionToken() string { return r.token }
func (r *JoinResponseResolver) PlayerId() string     { return r.playerID }
func (r *JoinResponseResolver) RoomKey() string      { return r.roomKey }
func (r *JoinResponseResolver) Facilitator() bool    { return r.facilitator }

// playgroundHTML GraphQL Playground HTML
const playgroundHTML = `
<!DOCTYPE html>
<html>
<head>
  <meta charset=utf-8/>
  <meta name="viewport" content="user-scalable=no, initial-scale=1.0, minimum-scale=1.0, maximum-scale=1.0, minimal-ui">
  <title>Little Poker GraphQL Playground</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/css/index.css" />
  <link rel="shortcut icon" href="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/favicon.png" />
  <script src="https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/static/js/middleware.js"></script>
</head>
<body>
  <div id="root">
    <style>
      body {
        background-color: rgb(23, 42, 58);
        font-family: Open Sans, sans-serif;
        height: 90vh;
      }
      #root {
        height: 100%;
        width: 100%;
        display: flex;
        align-items: center;
        justify-content: center;
      }
      .loading {
        font-size: 32px;
        font-weight: 200;
        color: rgba(255, 255, 255, .6);
        margin-left: 20px;
      }
      img {
        width: 78px;
        height: 78px;
      }
      .title {
        font-weight: 400;
      }
    </style>
    <img src='https://cdn.jsdelivr.net/npm/graphql-playground-react@1.7.22/build/logo.png' alt=''>
    <div class="loading">
      <span class="title">Little Poker GraphQL Playground</span>
    </div>
  </div>
  <script>window.addEventListener('load', function (event) {
      GraphQLPlayground.init(document.getElementById('root'), {
        endpoint: '/graphql'
      })
    })</script>
</body>
</html>
`
