// Command token 为聊天用户签发访问令牌，供机器人前端或调试时调用 API。
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	jwtpkg "mailninja/backend/internal/auth/jwt"
	"mailninja/backend/internal/config"
)

func main() {
	userID := flag.Int64("user", 0, "聊天用户 ID（必填，可为负数的群组 ID）")
	flag.Parse()

	if *userID == 0 {
		fmt.Println("用法:")
		fmt.Println("  MAILNINJA_JWT_SECRET=... go run ./cmd/token -user=123456789")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 加载配置失败: %v\n", err)
		os.Exit(1)
	}

	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry, cfg.JWT.RefreshExpiry)
	tokens, err := manager.GenerateTokenPair(*userID)
	if err != nil {
		fmt.Printf("错误: 签发令牌失败: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tokens); err != nil {
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}
}
