package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/littlepoker/config"
	"github.com/lvdashuaibi/littlepoker/internal/model"
)

const mysqlDuplicateEntry = 1062

// ErrRoundAlreadyApplied 该房间该轮的统计已经入账过（按唯一键判定），重复投递时返回
var ErrRoundAlreadyApplied = errors.New("该轮统计已入账")

// StatDelta 一轮亮牌里单个玩家的统计增量
type StatDelta struct {
	PlayerID string
	Name     string
	Numeric  bool    // 票面是否数值（"?"等不计入rounds与sum）
	Value    float64 // Numeric为true时的数值
	Zen      bool    // 是否本轮最贴近中位数
}

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// ApplyRevealStats 把一轮亮牌的统计增量入账。
// 先插入reveal_log占位，(room_key, round)唯一键保证同一轮只入账一次；
// 重复事件命中唯一键冲突时整个事务回滚并返回ErrRoundAlreadyApplied。
func (r *MySQLRepository) ApplyRevealStats(roomKey string, round int, revealedAt time.Time, deltas []StatDelta) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	_, err = tx.Exec("INSERT INTO reveal_log (room_key, round, revealed_at) VALUES (?, ?, ?)",
		roomKey, round, revealedAt)
	if err != nil {
		tx.Rollback()
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return ErrRoundAlreadyApplied
		}
		return fmt.Errorf("写入亮牌日志失败: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO stat_aggregates (room_key, player_id, name, rounds, total, zen)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			 name = VALUES(name),
			 rounds = rounds + VALUES(rounds),
			 total = total + VALUES(total),
			 zen = zen + VALUES(zen)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备统计更新语句失败: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		rounds, total := 0, 0.0
		if d.Numeric {
			rounds = 1
			total = d.Value
		}
		zen := 0
		if d.Zen {
			zen = 1
		}
		if _, err := stmt.Exec(roomKey, d.PlayerID, d.Name, rounds, total, zen); err != nil {
			tx.Rollback()
			return fmt.Errorf("更新玩家 %s 统计失败: %w", d.PlayerID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// GetRoomStats 读取一个房间的全部累计统计
func (r *MySQLRepository) GetRoomStats(roomKey string) ([]*model.StatAggregate, error) {
	query := `SELECT room_key, player_id, name, rounds, total, zen, updated_at
			 FROM stat_aggregates WHERE room_key = ? ORDER BY player_id`
	rows, err := r.slaveDB.Query(query, roomKey)
	if err != nil {
		return nil, fmt.Errorf("查询房间统计失败: %w", err)
	}
	defer rows.Close()

	var stats []*model.StatAggregate
	for rows.Next() {
		var s model.StatAggregate
		if err := rows.Scan(&s.RoomKey, &s.PlayerID, &s.Name, &s.Rounds, &s.Sum, &s.Zen, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("扫描房间统计失败: %w", err)
		}
		stats = append(stats, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代房间统计失败: %w", err)
	}
	return stats, nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
