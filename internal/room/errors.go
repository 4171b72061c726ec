package room

import "errors"

// 校验类错误：在本地拦截，不会产生任何存储写入
var (
	ErrNameTaken      = errors.New("该昵称在房间内已被使用")
	ErrNotPlayer      = errors.New("观察者不能投票")
	ErrRoundLocked    = errors.New("本轮已亮牌，无法再投票")
	ErrValueNotInDeck = errors.New("票值不在牌组中")
	ErrNotFacilitator = errors.New("只有房间创建者可以执行该操作")
	ErrSessionClosed  = errors.New("会话已结束")
	ErrInvalidRole    = errors.New("非法的角色")
)
