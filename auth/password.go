package auth

import "golang.org/x/crypto/bcrypt"

// 与原站点保持一致的散列代价
const bcryptCost = 10

// HashPassword 生成密码散列
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CheckPassword 校验明文密码与散列是否匹配
func CheckPassword(password, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
