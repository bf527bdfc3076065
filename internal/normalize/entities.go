package normalize

import (
	"strings"

	"areahood/internal/models"
)

var (
	authorKeys  = []string{"author", "user", "created_by", "createdBy", "owner", "posted_by"}
	contentKeys = []string{"content", "text", "body"}
	createdKeys = []string{"created_at", "createdAt", "created", "timestamp"}
	updatedKeys = []string{"updated_at", "updatedAt", "updated", "edited_at"}
	avatarKeys  = []string{"avatar_url", "avatarUrl", "avatar", "profile_picture", "profilePicture", "image"}

	likedKeys     = []string{"liked", "is_liked", "isLiked", "liked_by_me", "likedByMe"}
	likesKeys     = []string{"likes_count", "likesCount", "like_count", "likes"}
	followingKeys = []string{"following", "is_following", "isFollowing", "followed"}
	followersKeys = []string{"followers_count", "followersCount", "followers"}
	joinedKeys    = []string{"joined", "is_member", "isMember", "member"}
	membersKeys   = []string{"member_count", "memberCount", "members_count", "membersCount", "members"}
	tokenKeys     = []string{"token", "access_token", "accessToken", "jwt"}
)

// Post normalizes a raw post record.
func Post(r Record) models.Post {
	p := models.Post{
		ID:      ID(r),
		Author:  postAuthor(r),
		Content: String(r, contentKeys...),
		Media:   media(r),
		GroupID: refID(r, "group_id", "groupId", "group", "sanctum_id"),
	}

	p.LikesCount, _ = Int(r, likesKeys...)
	p.Liked, _ = Bool(r, likedKeys...)
	p.CommentsCount, _ = Int(r, "comments_count", "commentsCount", "comment_count", "comments")
	p.CreatedAt, _ = Time(r, createdKeys...)
	if t, ok := Time(r, updatedKeys...); ok {
		p.UpdatedAt = &t
	}
	return p
}

// Comment normalizes a raw comment record. postID is used when the record
// does not carry its parent reference.
func Comment(r Record, postID string) models.Comment {
	c := models.Comment{
		ID:      ID(r),
		PostID:  refID(r, "post_id", "postId", "post"),
		Content: String(r, contentKeys...),
	}
	if c.PostID == "" {
		c.PostID = postID
	}
	for _, k := range authorKeys {
		if m, ok := r[k].(map[string]any); ok {
			a := Author(m)
			c.Author = &a
			break
		}
	}
	c.Pending, _ = Bool(r, "pending")
	c.CreatedAt, _ = Time(r, createdKeys...)
	c.UpdatedAt, _ = Time(r, updatedKeys...)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	return c
}

// Author normalizes a nested author summary.
func Author(r Record) models.Author {
	a := models.Author{
		ID:          ID(r),
		DisplayName: displayName(r),
		AvatarURL:   String(r, avatarKeys...),
	}
	if a.DisplayName == "" {
		a.DisplayName = models.UnknownAuthorName
	}
	return a
}

// Profile normalizes a raw user record.
func Profile(r Record) models.Profile {
	p := models.Profile{
		ID:           ID(r),
		Email:        String(r, "email"),
		DisplayName:  displayName(r),
		FirstName:    String(r, "first_name", "firstName"),
		LastName:     String(r, "last_name", "lastName"),
		AvatarURL:    String(r, avatarKeys...),
		Location:     String(r, "location", "neighborhood", "address"),
		ReferralCode: String(r, "referral_code", "referralCode"),
		Role:         RoleOf(r),
	}
	p.FollowersCount, _ = Int(r, followersKeys...)
	p.Following, _ = Bool(r, followingKeys...)
	return p
}

// RoleOf derives the account role from the raw signal on a user record.
func RoleOf(r Record) models.Role {
	if admin, ok := Bool(r, "is_admin", "isAdmin"); ok && admin {
		return models.RoleAdmin
	}
	return models.DeriveRole(String(r, "role", "account_type", "accountType", "user_type", "userType"))
}

// Group normalizes a raw group record.
func Group(r Record) models.Group {
	g := models.Group{
		ID:          ID(r),
		Name:        String(r, "name", "title"),
		Slug:        String(r, "slug"),
		Description: String(r, "description", "about", "summary"),
	}
	g.MemberCount, _ = Int(r, membersKeys...)
	g.Joined, _ = Bool(r, joinedKeys...)
	return g
}

// LikeResult reads the authoritative like state from a toggle response.
// A nil result means the server did not report that field.
func LikeResult(r Record) (liked *bool, count *int) {
	return toggleResult(r, likedKeys, likesKeys)
}

// FollowResult reads the authoritative follow state from a toggle response.
func FollowResult(r Record) (following *bool, followers *int) {
	return toggleResult(r, followingKeys, followersKeys)
}

// MembershipResult reads the authoritative membership state from a toggle response.
func MembershipResult(r Record) (joined *bool, members *int) {
	return toggleResult(r, joinedKeys, membersKeys)
}

// Token finds the bearer token in an auth response.
func Token(r Record) string {
	if t := String(r, tokenKeys...); t != "" {
		return t
	}
	if inner, ok := Object(r, "data", "session"); ok {
		return String(inner, tokenKeys...)
	}
	return ""
}

func toggleResult(r Record, flagKeys, countKeys []string) (*bool, *int) {
	var flag *bool
	var count *int
	if b, ok := Bool(r, flagKeys...); ok {
		flag = &b
	}
	if n, ok := Int(r, countKeys...); ok {
		count = &n
	}
	return flag, count
}

func postAuthor(r Record) models.Author {
	for _, k := range authorKeys {
		if m, ok := r[k].(map[string]any); ok {
			return Author(m)
		}
	}
	a := models.Author{
		ID:          String(r, "author_id", "authorId", "user_id", "userId"),
		DisplayName: String(r, "author_name", "authorName", "username"),
		AvatarURL:   String(r, "author_avatar", "authorAvatar"),
	}
	if a.DisplayName == "" {
		a.DisplayName = models.UnknownAuthorName
	}
	return a
}

func displayName(r Record) string {
	if s := String(r, "display_name", "displayName", "name", "full_name", "fullName"); s != "" {
		return s
	}
	full := strings.TrimSpace(String(r, "first_name", "firstName") + " " + String(r, "last_name", "lastName"))
	if full != "" {
		return full
	}
	return String(r, "username", "handle")
}

func media(r Record) []models.Media {
	out := []models.Media{}
	if items, ok := Array(r, "media", "images", "attachments", "photos"); ok {
		for _, item := range items {
			switch x := item.(type) {
			case string:
				out = append(out, models.Media{URL: strings.TrimSpace(x)})
			case map[string]any:
				out = append(out, models.Media{URL: String(x, "url", "src", "image_url", "uri")})
			case nil:
				out = append(out, models.Media{})
			}
		}
		return out
	}
	if u := String(r, "image_url", "imageUrl"); u != "" {
		out = append(out, models.Media{URL: u})
	}
	return out
}

// refID reads a reference that may be a scalar id or an embedded object.
func refID(r Record, keys ...string) string {
	for _, k := range keys {
		switch x := r[k].(type) {
		case map[string]any:
			if id := ID(x); id != "" {
				return id
			}
		default:
			if s, ok := asString(x); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
