// Package migrations 内嵌 PostgreSQL 与 MySQL 的建表脚本
package migrations

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed postgres/*.sql mysql/*.sql
var files embed.FS

// Load 读取指定数据库类型和方向（up/down）的初始脚本
func Load(dbType, action string) (string, error) {
	if dbType != "mysql" && dbType != "postgres" {
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
	if action != "up" && action != "down" {
		return "", fmt.Errorf("unsupported action %q", action)
	}
	content, err := files.ReadFile(fmt.Sprintf("%s/001_initial_schema.%s.sql", dbType, action))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SplitStatements 分割SQL语句（按分号分割，忽略字符串中的分号和 -- 注释行）
func SplitStatements(sql string) []string {
	var statements []string
	var current strings.Builder
	var inString bool
	var stringChar rune

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		stmt = strings.TrimSuffix(stmt, ";")
		if strings.TrimSpace(stmt) != "" {
			statements = append(statements, strings.TrimSpace(stmt))
		}
		current.Reset()
	}

	for _, line := range strings.Split(sql, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'' || r == '"' || r == '`':
				if !inString {
					inString, stringChar = true, r
				} else if r == stringChar {
					inString = false
				}
				current.WriteRune(r)
			case r == ';' && !inString:
				flush()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteRune('\n')
	}
	flush()
	return statements
}
