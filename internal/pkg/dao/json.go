package dao

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON 存到 JSON 类型列里的原始数据
type JSON json.RawMessage

// Value 空值存成 JSON 的 null，这样 NOT NULL 的列也能写入
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "null", nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		// 驱动会复用 v 的内存
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSON(v)
	default:
		return fmt.Errorf("JSON 列不支持的类型 %T", value)
	}
	return nil
}

func (JSON) GormDataType() string {
	return "json"
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}
